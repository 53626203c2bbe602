package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// WindowLimiter is an in-memory sliding-window log. Every admitted or
// reserved call is a slot; any interval of one period holds at most
// MaxCalls slots.
type WindowLimiter struct {
	opts   options
	states map[models.Platform]*windowState
}

type windowState struct {
	mu     sync.Mutex
	budget Budget
	slots  []slot
	nextID uint64
}

type slot struct {
	at time.Time
	id uint64
}

var _ Limiter = (*WindowLimiter)(nil)

func NewWindowLimiter(budgets map[models.Platform]Budget, opts ...Option) *WindowLimiter {
	l := &WindowLimiter{
		opts:   buildOptions(opts),
		states: make(map[models.Platform]*windowState, len(budgets)),
	}
	for p, b := range budgets {
		l.states[p] = &windowState{budget: b}
	}
	return l
}

func (l *WindowLimiter) Admit(_ context.Context, platform models.Platform) Decision {
	st, ok := l.states[platform]
	if !ok || st.budget.MaxCalls <= 0 || st.budget.Period <= 0 {
		return denied()
	}

	now := l.opts.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.prune(now)

	at := now
	if n := len(st.slots); n >= st.budget.MaxCalls {
		at = st.slots[n-st.budget.MaxCalls].at.Add(st.budget.Period)
	}
	if at.Sub(now) > l.opts.horizon(st.budget) {
		return denied()
	}

	st.nextID++
	id := st.nextID
	st.insert(slot{at: at, id: id})

	return decide(now, at, func() { st.release(id) })
}

func (l *WindowLimiter) Snapshot(_ context.Context, platform models.Platform) Snapshot {
	snap := Snapshot{Platform: platform, State: StateSaturated}
	st, ok := l.states[platform]
	if !ok {
		return snap
	}

	now := l.opts.now()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.prune(now)

	snap.MaxCalls = st.budget.MaxCalls
	snap.Period = st.budget.Period
	snap.Reserved = len(st.slots)
	if snap.Reserved < st.budget.MaxCalls {
		snap.State = StateOpen
	}
	return snap
}

// prune drops slots that no longer fall inside the window ending at now.
func (s *windowState) prune(now time.Time) {
	cutoff := now.Add(-s.budget.Period)
	i := 0
	for i < len(s.slots) && !s.slots[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		s.slots = append(s.slots[:0], s.slots[i:]...)
	}
}

func (s *windowState) insert(sl slot) {
	i := sort.Search(len(s.slots), func(i int) bool { return s.slots[i].at.After(sl.at) })
	s.slots = append(s.slots, slot{})
	copy(s.slots[i+1:], s.slots[i:])
	s.slots[i] = sl
}

func (s *windowState) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sl := range s.slots {
		if sl.id == id {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return
		}
	}
}
