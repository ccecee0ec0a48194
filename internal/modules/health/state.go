package health

import (
	"sync/atomic"
	"time"
)

// State is the process-wide liveness snapshot: session readiness, ticker
// connectivity and tick freshness. Written by the session manager and the
// streaming session, read by the health and status endpoints.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	gaveUp       atomic.Bool // reconnect budget exhausted, needs token rotation
	lastTickUnix atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) {
	s.wsConnected.Store(v)
	if v {
		s.gaveUp.Store(false)
	}
}
func (s *State) WSConnected() bool { return s.wsConnected.Load() }

func (s *State) SetGaveUp(v bool) { s.gaveUp.Store(v) }
func (s *State) GaveUp() bool     { return s.gaveUp.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
