package position

import (
	"context"
	"errors"
	"sync"

	"nuha.dev/gpsreporter/internal/report"
)

var (
	ErrNoFix    = errors.New("no position fix")
	ErrStaleFix = errors.New("position fix too old")
)

// Permission is the outcome of a two step permission request. Foreground is
// required for tracking, Background is optional.
type Permission struct {
	Foreground bool
	Background bool
}

// Provider is the device positioning capability.
type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context) (report.Position, error)
}

// Static always reports the same position. Useful for fixed installations and tests.
type Static struct {
	mu      sync.Mutex
	pos     report.Position
	has_pos bool
	perm    Permission
}

func NewStatic(p report.Position) *Static {
	return &Static{pos: p, has_pos: true, perm: Permission{Foreground: true, Background: true}}
}

func (s *Static) RequestPermission(ctx context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perm, nil
}

func (s *Static) CurrentPosition(ctx context.Context) (report.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has_pos {
		return report.Position{}, ErrNoFix
	}
	return s.pos, nil
}

func (s *Static) Set(p report.Position) {
	s.mu.Lock()
	s.pos = p
	s.has_pos = true
	s.mu.Unlock()
}

func (s *Static) Unset() {
	s.mu.Lock()
	s.has_pos = false
	s.mu.Unlock()
}

func (s *Static) SetPermission(p Permission) {
	s.mu.Lock()
	s.perm = p
	s.mu.Unlock()
}
