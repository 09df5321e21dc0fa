package stages

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduitbot/conduit/internal/pipeline"
	"github.com/conduitbot/conduit/internal/sessions"
)

// RateLimitCheck bounds queries per session with a fixed window. Disabled
// pipelines pass every query through.
type RateLimitCheck struct {
	base

	mu      sync.Mutex
	windows map[string]*window

	// now is swapped in tests.
	now func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewRateLimitCheck(deps Deps) *RateLimitCheck {
	return &RateLimitCheck{
		base:    base{deps: deps},
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (s *RateLimitCheck) Name() string { return "RateLimitCheck" }

func (s *RateLimitCheck) Process(_ context.Context, q *pipeline.Query) (pipeline.StageOutput, error) {
	rl := s.cfg.RateLimit
	if !rl.Enabled || rl.Limit <= 0 {
		return pipeline.ContinueWith(q), nil
	}
	size := time.Duration(rl.WindowSize) * time.Second
	if size <= 0 {
		size = time.Minute
	}

	key := sessions.Key(q.LauncherType, q.LauncherID)
	s.mu.Lock()
	w, ok := s.windows[key]
	now := s.now()
	if !ok || now.Sub(w.start) >= size {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	over := w.count > rl.Limit
	s.mu.Unlock()

	if over {
		result := &pipeline.StageResult{
			Type:          pipeline.Interrupt,
			NewQuery:      q,
			UserNotice:    "You are sending messages too quickly, please slow down",
			ConsoleNotice: fmt.Sprintf("Rate limited session %s", key),
		}
		return pipeline.Single(result), nil
	}
	return pipeline.ContinueWith(q), nil
}
