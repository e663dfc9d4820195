package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/gpsreporter/internal/report"
)

var columns = []string{"vehicle_id", "driver_id", "latitude", "longitude", "report_time", "server_time"}

type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type Store struct {
	config *StoreConfig
	wlock  sync.Mutex
	wbuf   buffer
	flushc chan buffer
	stop   chan struct{}
	done   sync.WaitGroup
	closed bool
	dbc    copier
	conn   *pgxpool.Conn
	dbp    *pgxpool.Pool
	log    log.Logger
	table  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

func DefaultConfig() *StoreConfig {
	return &StoreConfig{BufSize: 100, TickerDur: time.Second, MaxAgeFlush: 5 * time.Second}
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	vehicle_id string
	driver_id  string
	lat        float64
	lon        float64
	rept       time.Time
	srvt       time.Time
}

func NewStore(db *pgxpool.Pool, table string, config *StoreConfig) *Store {
	o := newStore(table, config)
	o.dbp = db
	return o
}

func newStore(table string, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	o.table = table
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.flushc = make(chan buffer, 4)
	o.stop = make(chan struct{})
	return o
}

func (st *Store) SetLogger(logger log.Logger) {
	st.log = logger
}

// Run acquires a dedicated connection and starts the flusher tasks.
func (st *Store) Run(ctx context.Context) error {
	conn, err := st.dbp.Acquire(ctx)
	if err != nil {
		return err
	}
	st.conn = conn
	st.start(conn)
	return nil
}

func (st *Store) start(dbc copier) {
	st.dbc = dbc
	st.done.Add(2)
	go st.timer_flusher()
	go st.handle()
}

// CreateTable creates the report table when it does not exist yet.
func CreateTable(ctx context.Context, db *pgxpool.Pool, table string) error {
	_, err := db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	vehicle_id text NOT NULL,
	driver_id text NOT NULL,
	latitude double precision NOT NULL,
	longitude double precision NOT NULL,
	report_time timestamptz NOT NULL,
	server_time timestamptz NOT NULL)`, pgx.Identifier{table}.Sanitize()))
	return err
}

func (st *Store) timer_flusher() {
	defer st.done.Done()
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 {
				st.flush()
			}
			close(st.flushc)
			st.wlock.Unlock()
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		}
	}
}

func (st *Store) Put(r *report.LocationReport, srvt time.Time) {
	rept, err := r.Time()
	if err != nil {
		rept = srvt
	}
	rec := record{vehicle_id: r.VehicleId, driver_id: r.DriverId, lat: r.Latitude, lon: r.Longitude, rept: rept, srvt: srvt}
	st.wlock.Lock()
	defer st.wlock.Unlock()
	if st.closed {
		st.log.Warn().Str("vehicle_id", r.VehicleId).Msg("put after close, report dropped")
		return
	}
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
}

// flush hands the write buffer to the flusher task. Caller holds wlock.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.wbuf.t2 = time.Now().UTC()
	st.flushc <- st.wbuf
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	defer st.done.Done()
	st.log.Info().Msg("starting flusher task")
	for buf := range st.flushc {
		st.log.Debug().Uint64("seq", buf.seq).Msg("flusher task signalled")
		t1 := time.Now()
		_, err := st.dbc.CopyFrom(context.Background(),
			pgx.Identifier{st.table},
			columns,
			pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
				d := buf.buf[i]
				return []interface{}{d.vehicle_id, d.driver_id, d.lat, d.lon, d.rept, d.srvt}, nil
			}))
		if err != nil {
			if is_undefined_table(err) {
				st.log.Error().Err(err).Str("table", st.table).Int("length", len(buf.buf)).Msg("flush error, table does not exist")
			} else {
				st.log.Error().Err(err).Int("length", len(buf.buf)).Msg("flush error")
			}
		} else {
			st.log.Debug().Str("action", "flush").Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}

// Close flushes what is buffered and releases the connection.
func (st *Store) Close() {
	st.wlock.Lock()
	if st.closed {
		st.wlock.Unlock()
		return
	}
	st.closed = true
	st.wlock.Unlock()
	close(st.stop)
	st.done.Wait()
	if st.conn != nil {
		st.conn.Release()
	}
}

func is_undefined_table(err error) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UndefinedTable
}
