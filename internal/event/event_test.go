package event

import (
	"context"
	"testing"
)

func TestRecorderRing(t *testing.T) {
	r := NewRecorder(3)
	for _, topic := range []string{"a", "b", "c", "d"} {
		r.Add(Record{Topic: topic})
	}
	got := r.Recent()
	if len(got) != 3 {
		t.Fatalf("got %d records", len(got))
	}
	for i, want := range []string{"b", "c", "d"} {
		if got[i].Topic != want {
			t.Errorf("record %d: got %s, want %s", i, got[i].Topic, want)
		}
	}
}

func TestRecorderPartial(t *testing.T) {
	r := NewRecorder(5)
	r.Add(Record{Topic: "a"})
	if got := r.Recent(); len(got) != 1 || got[0].Topic != "a" {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestBusDelivery(t *testing.T) {
	b, err := NewBus(1)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRecorder(10)
	r.Attach(b)
	if err := b.Emit(context.Background(), ReportSent, "V1"); err != nil {
		t.Fatal(err)
	}
	got := r.Recent()
	if len(got) != 1 || got[0].Topic != ReportSent || got[0].Data != "V1" || got[0].Id == "" {
		t.Fatalf("unexpected %+v", got)
	}
	if err := b.Emit(context.Background(), "not.registered", nil); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}
