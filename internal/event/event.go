package event

import (
	"context"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
)

const (
	SessionStarted   string = "session.started"
	SessionStopped   string = "session.stopped"
	ReportSent       string = "report.sent"
	ReportFailed     string = "report.failed"
	ReportSkipped    string = "report.skipped"
	ConnectionStatus string = "connection.status"
)

var Topics = []string{SessionStarted, SessionStopped, ReportSent, ReportFailed, ReportSkipped, ConnectionStatus}

// 2021-01-01T00:00:00Z in milliseconds
const initialTime uint64 = 1609459200000

type Emitter interface {
	Emit(ctx context.Context, topic string, data interface{}) error
}

// NewBus returns a bus with all session topics registered.
func NewBus(node uint64) (*bus.Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, initialTime)
	if err != nil {
		return nil, err
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(Topics...)
	return b, nil
}

type Record struct {
	Id    string      `json:"id"`
	Topic string      `json:"topic"`
	Time  time.Time   `json:"time"`
	Data  interface{} `json:"data,omitempty"`
}

// Recorder keeps the last events in a fixed ring.
type Recorder struct {
	mu   sync.Mutex
	list []Record
	idx  int
	full bool
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 50
	}
	return &Recorder{list: make([]Record, size)}
}

func (r *Recorder) Attach(b *bus.Bus) {
	h := bus.Handler{Handle: r.handle, Matcher: ".*"}
	b.RegisterHandler("recorder", h)
}

func (r *Recorder) handle(ctx context.Context, e bus.Event) {
	r.Add(Record{Id: e.ID, Topic: e.Topic, Time: e.OccurredAt, Data: e.Data})
}

func (r *Recorder) Add(rec Record) {
	r.mu.Lock()
	r.list[r.idx] = rec
	r.idx = r.idx + 1
	if r.idx == len(r.list) {
		r.idx = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Recent returns recorded events, oldest first.
func (r *Recorder) Recent() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Record, r.idx)
		copy(out, r.list[:r.idx])
		return out
	}
	out := make([]Record, 0, len(r.list))
	out = append(out, r.list[r.idx:]...)
	out = append(out, r.list[:r.idx]...)
	return out
}
