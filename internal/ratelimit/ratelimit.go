// Package ratelimit decides, per platform, whether an outbound probe may run
// now, later, or not at all. Admission never blocks: the caller acts on the
// returned Decision.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/HanTheDev/phone-checker/internal/config"
	"github.com/HanTheDev/phone-checker/internal/models"
)

type Verdict int

const (
	Immediate Verdict = iota
	WaitUntil
	Denied
)

func (v Verdict) String() string {
	switch v {
	case Immediate:
		return "immediate"
	case WaitUntil:
		return "wait_until"
	default:
		return "denied"
	}
}

// Decision is the outcome of Admit. Immediate and WaitUntil decisions hold a
// reserved slot; a caller that ends up not probing must call Cancel.
type Decision struct {
	Verdict Verdict
	At      time.Time
	cancel  func()
}

// Cancel releases the slot held by the decision. Safe to call more than once
// and on Denied decisions.
func (d Decision) Cancel() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Budget is the call allowance of one platform: at most MaxCalls per Period.
type Budget struct {
	MaxCalls int
	Period   time.Duration
}

type State string

const (
	StateOpen      State = "open"
	StateSaturated State = "saturated"
)

type Snapshot struct {
	Platform models.Platform `json:"platform"`
	State    State           `json:"state"`
	MaxCalls int             `json:"max_calls"`
	Period   time.Duration   `json:"period_ns"`
	Reserved int             `json:"reserved"`
}

type Limiter interface {
	Admit(ctx context.Context, platform models.Platform) Decision
	Snapshot(ctx context.Context, platform models.Platform) Snapshot
}

type Option func(*options)

type options struct {
	now     func() time.Time
	maxWait time.Duration
	logger  *slog.Logger
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxWait bounds how far in the future a reservation may start before
// Admit answers Denied. Zero means one period of the platform's budget.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) horizon(b Budget) time.Duration {
	if o.maxWait > 0 {
		return o.maxWait
	}
	return b.Period
}

func denied() Decision {
	return Decision{Verdict: Denied}
}

func decide(now, at time.Time, cancel func()) Decision {
	if !at.After(now) {
		return Decision{Verdict: Immediate, At: now, cancel: cancel}
	}
	return Decision{Verdict: WaitUntil, At: at, cancel: cancel}
}

// BudgetsFromConfig builds one budget per configured platform.
func BudgetsFromConfig(cfg *config.Config) map[models.Platform]Budget {
	out := make(map[models.Platform]Budget, len(cfg.Platforms))
	for p, pc := range cfg.Platforms {
		out[p] = Budget{MaxCalls: pc.RateLimitCalls, Period: pc.RateLimitPeriod}
	}
	return out
}
