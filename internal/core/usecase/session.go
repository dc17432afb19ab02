package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

// Session owns the current ingestion snapshot. Queries read one snapshot for
// their whole lifetime; ingestion builds a new one and swaps it in.
type Session struct {
	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("load snapshot: %w", domain.ErrNotIngested)
	}
	return snap, nil
}

// Rebuild runs build exclusively against other rebuilds and publishes its
// result. The previous snapshot, including its answer cache, stays valid for
// queries already holding it and is dropped once they finish.
func (s *Session) Rebuild(ctx context.Context, build func(context.Context) (*Snapshot, error)) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := build(ctx)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return snap, nil
}

func (s *Session) ClearAnswerCache() {
	snap := s.current.Load()
	if snap == nil || snap.Answers == nil {
		return
	}
	snap.Answers.Clear()
}
