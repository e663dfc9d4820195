package position

import (
	"context"
	"errors"
	"testing"

	"nuha.dev/gpsreporter/internal/report"
)

func TestStatic(t *testing.T) {
	s := NewStatic(report.Position{Latitude: 12.34, Longitude: 56.78})
	perm, err := s.RequestPermission(context.Background())
	if err != nil || !perm.Foreground || !perm.Background {
		t.Fatalf("unexpected permission %+v %v", perm, err)
	}
	p, err := s.CurrentPosition(context.Background())
	if err != nil || p.Latitude != 12.34 || p.Longitude != 56.78 {
		t.Fatalf("unexpected position %+v %v", p, err)
	}
	s.Unset()
	if _, err := s.CurrentPosition(context.Background()); !errors.Is(err, ErrNoFix) {
		t.Fatalf("expected ErrNoFix, got %v", err)
	}
	s.Set(report.Position{Latitude: 1, Longitude: 2})
	if p, _ := s.CurrentPosition(context.Background()); p.Latitude != 1 {
		t.Fatal("position not updated")
	}
}
