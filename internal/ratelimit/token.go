package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// TokenLimiter is a token bucket per platform: burst MaxCalls, refilled at
// MaxCalls per Period.
type TokenLimiter struct {
	opts     options
	budgets  map[models.Platform]Budget
	limiters map[models.Platform]*rate.Limiter
}

var _ Limiter = (*TokenLimiter)(nil)

func NewTokenLimiter(budgets map[models.Platform]Budget, opts ...Option) *TokenLimiter {
	l := &TokenLimiter{
		opts:     buildOptions(opts),
		budgets:  make(map[models.Platform]Budget, len(budgets)),
		limiters: make(map[models.Platform]*rate.Limiter, len(budgets)),
	}
	for p, b := range budgets {
		l.budgets[p] = b
		if b.MaxCalls <= 0 || b.Period <= 0 {
			continue
		}
		l.limiters[p] = rate.NewLimiter(rate.Every(b.Period/time.Duration(b.MaxCalls)), b.MaxCalls)
	}
	return l
}

func (l *TokenLimiter) Admit(_ context.Context, platform models.Platform) Decision {
	lim, ok := l.limiters[platform]
	if !ok {
		return denied()
	}

	now := l.opts.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return denied()
	}

	delay := r.DelayFrom(now)
	if delay > l.opts.horizon(l.budgets[platform]) {
		r.CancelAt(now)
		return denied()
	}

	return decide(now, now.Add(delay), func() { r.CancelAt(l.opts.now()) })
}

func (l *TokenLimiter) Snapshot(_ context.Context, platform models.Platform) Snapshot {
	b := l.budgets[platform]
	snap := Snapshot{Platform: platform, State: StateSaturated, MaxCalls: b.MaxCalls, Period: b.Period}
	lim, ok := l.limiters[platform]
	if !ok {
		return snap
	}

	tokens := lim.TokensAt(l.opts.now())
	snap.Reserved = b.MaxCalls - int(tokens)
	if tokens >= 1 {
		snap.State = StateOpen
	}
	return snap
}
