// Package humanize produces human-like timing: gaussian delays, skip
// profiles for already-seen records and periodic breaks.
package humanize

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Action names a kind of human action with its own delay range.
type Action string

// Supported actions.
const (
	PageLoad              Action = "page_load"
	Click                 Action = "click"
	Typing                Action = "typing"
	CommentOpen           Action = "comment_open"
	DetailsOpen           Action = "details_open"
	DuplicateRecognition  Action = "duplicate_recognition"
	DuplicateScroll       Action = "duplicate_scroll"
	DuplicateSkipDecision Action = "duplicate_skip_decision"
	DuplicateClick        Action = "duplicate_click"
	BetweenRecords        Action = "between_records"
	PauseBreak            Action = "pause_break"
)

// Range is an inclusive delay interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// DefaultRanges is the delay table used when none is configured.
var DefaultRanges = map[Action]Range{
	PageLoad:              {2000 * time.Millisecond, 4500 * time.Millisecond},
	Click:                 {1000 * time.Millisecond, 2500 * time.Millisecond},
	Typing:                {100 * time.Millisecond, 300 * time.Millisecond},
	CommentOpen:           {1500 * time.Millisecond, 3000 * time.Millisecond},
	DetailsOpen:           {1500 * time.Millisecond, 3000 * time.Millisecond},
	DuplicateRecognition:  {800 * time.Millisecond, 2000 * time.Millisecond},
	DuplicateScroll:       {300 * time.Millisecond, 800 * time.Millisecond},
	DuplicateSkipDecision: {500 * time.Millisecond, 1200 * time.Millisecond},
	DuplicateClick:        {300 * time.Millisecond, 700 * time.Millisecond},
	BetweenRecords:        {1500 * time.Millisecond, 2500 * time.Millisecond},
	PauseBreak:            {2000 * time.Millisecond, 4000 * time.Millisecond},
}

// Sampler draws random delays. It is safe for concurrent use.
type Sampler struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ranges map[Action]Range
}

// NewSampler builds a sampler. A nil rng uses a randomly seeded source; a nil
// ranges map uses DefaultRanges.
func NewSampler(rng *rand.Rand, ranges map[Action]Range) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if ranges == nil {
		ranges = DefaultRanges
	}
	return &Sampler{rng: rng, ranges: ranges}
}

// Float64 returns a uniform value in [0, 1).
func (s *Sampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN returns a uniform value in [0, n).
func (s *Sampler) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Uniform returns a duration uniformly distributed in [lo, hi].
func (s *Sampler) Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.Float64()*float64(hi-lo))
}

// Gaussian returns a duration in [lo, hi] concentrated around the middle of
// the range. A standard normal sample is mapped from [-3, 3] onto the range
// and clamped.
func (s *Sampler) Gaussian(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	u := 1 - s.rng.Float64()
	v := 1 - s.rng.Float64()
	s.mu.Unlock()

	z := math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v)
	n := math.Max(0, math.Min(1, (z+3)/6))
	return lo + time.Duration(n*float64(hi-lo))
}

// Delay samples the delay for action. Unknown actions use the Click range.
func (s *Sampler) Delay(action Action) time.Duration {
	r, ok := s.ranges[action]
	if !ok {
		r = s.ranges[Click]
	}
	return s.Gaussian(r.Min, r.Max)
}

// Humanizer sleeps for sampled delays.
type Humanizer struct {
	sampler *Sampler
	clock   harvest.Clock
}

// NewHumanizer pairs a sampler with a clock.
func NewHumanizer(sampler *Sampler, clock harvest.Clock) *Humanizer {
	if sampler == nil {
		sampler = NewSampler(nil, nil)
	}
	return &Humanizer{sampler: sampler, clock: clock}
}

// Sampler exposes the underlying sampler.
func (h *Humanizer) Sampler() *Sampler {
	return h.sampler
}

// Wait sleeps for a delay sampled for action and returns it.
func (h *Humanizer) Wait(ctx context.Context, action Action) (time.Duration, error) {
	d := h.sampler.Delay(action)
	return d, h.clock.Sleep(ctx, d)
}

// WaitBetween sleeps for a uniform delay in [lo, hi].
func (h *Humanizer) WaitBetween(ctx context.Context, lo, hi time.Duration) error {
	return h.clock.Sleep(ctx, h.sampler.Uniform(lo, hi))
}

// Break implements harvest.Pacer with a pause_break delay.
func (h *Humanizer) Break(ctx context.Context) error {
	_, err := h.Wait(ctx, PauseBreak)
	return err
}
