package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/phone-checker/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000010, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func budgets(max int, period time.Duration) map[models.Platform]Budget {
	return map[models.Platform]Budget{
		models.WhatsApp: {MaxCalls: max, Period: period},
		models.Telegram: {MaxCalls: max, Period: period},
		models.Snapchat: {MaxCalls: 0, Period: period},
	}
}

func TestWindowLimiter_AdmitsUpToBudget(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(budgets(3, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := l.Admit(ctx, models.WhatsApp); d.Verdict != Immediate {
			t.Fatalf("Admit() #%d = %v, want immediate", i+1, d.Verdict)
		}
	}

	d := l.Admit(ctx, models.WhatsApp)
	if d.Verdict != WaitUntil {
		t.Fatalf("Admit() #4 = %v, want wait_until", d.Verdict)
	}
	if want := clock.Now().Add(time.Minute); !d.At.Equal(want) {
		t.Errorf("Admit() #4 At = %v, want %v", d.At, want)
	}
}

func TestWindowLimiter_CancelReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(budgets(2, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	l.Admit(ctx, models.WhatsApp)
	second := l.Admit(ctx, models.WhatsApp)
	second.Cancel()
	second.Cancel()

	if d := l.Admit(ctx, models.WhatsApp); d.Verdict != Immediate {
		t.Fatalf("Admit() after Cancel = %v, want immediate", d.Verdict)
	}

	wait := l.Admit(ctx, models.WhatsApp)
	if wait.Verdict != WaitUntil {
		t.Fatalf("Admit() = %v, want wait_until", wait.Verdict)
	}
	wait.Cancel()
	if snap := l.Snapshot(ctx, models.WhatsApp); snap.Reserved != 2 {
		t.Errorf("Snapshot().Reserved = %d, want 2 after cancelling the reservation", snap.Reserved)
	}
}

func TestWindowLimiter_Slides(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(budgets(3, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	l.Admit(ctx, models.WhatsApp)
	l.Admit(ctx, models.WhatsApp)
	clock.Advance(30 * time.Second)
	l.Admit(ctx, models.WhatsApp)

	clock.Advance(31 * time.Second)
	for i := 0; i < 2; i++ {
		if d := l.Admit(ctx, models.WhatsApp); d.Verdict != Immediate {
			t.Fatalf("Admit() #%d after slide = %v, want immediate", i+1, d.Verdict)
		}
	}
	d := l.Admit(ctx, models.WhatsApp)
	if d.Verdict != WaitUntil {
		t.Fatalf("Admit() = %v, want wait_until", d.Verdict)
	}
	if want := clock.Now().Add(29 * time.Second); !d.At.Equal(want) {
		t.Errorf("Admit() At = %v, want %v", d.At, want)
	}
}

func TestWindowLimiter_Denied(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	tests := []struct {
		name     string
		limiter  *WindowLimiter
		platform models.Platform
		warmup   int
	}{
		{"zero budget", NewWindowLimiter(budgets(3, time.Minute), WithClock(clock.Now)), models.Snapchat, 0},
		{"unknown platform", NewWindowLimiter(budgets(3, time.Minute), WithClock(clock.Now)), "myspace", 0},
		{"wait beyond max wait", NewWindowLimiter(budgets(1, time.Minute), WithClock(clock.Now), WithMaxWait(10*time.Second)), models.WhatsApp, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.warmup; i++ {
				tt.limiter.Admit(ctx, tt.platform)
			}
			if d := tt.limiter.Admit(ctx, tt.platform); d.Verdict != Denied {
				t.Errorf("Admit() = %v, want denied", d.Verdict)
			}
		})
	}
}

func TestWindowLimiter_PlatformsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(budgets(1, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	l.Admit(ctx, models.WhatsApp)
	if d := l.Admit(ctx, models.Telegram); d.Verdict != Immediate {
		t.Errorf("Admit(telegram) = %v, want immediate", d.Verdict)
	}
	if got := l.Snapshot(ctx, models.WhatsApp).State; got != StateSaturated {
		t.Errorf("Snapshot(whatsapp).State = %v, want saturated", got)
	}
}

func TestWindowLimiter_Concurrent(t *testing.T) {
	clock := newFakeClock()
	l := NewWindowLimiter(budgets(10, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	var (
		mu     sync.Mutex
		counts = map[Verdict]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := l.Admit(ctx, models.WhatsApp)
			mu.Lock()
			counts[d.Verdict]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counts[Immediate] != 10 {
		t.Errorf("immediate = %d, want 10", counts[Immediate])
	}
	if counts[WaitUntil] != 10 {
		t.Errorf("wait_until = %d, want 10", counts[WaitUntil])
	}
	if counts[Denied] != 80 {
		t.Errorf("denied = %d, want 80", counts[Denied])
	}
}

func TestTokenLimiter(t *testing.T) {
	clock := newFakeClock()
	l := NewTokenLimiter(budgets(2, 10*time.Second), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d := l.Admit(ctx, models.WhatsApp); d.Verdict != Immediate {
			t.Fatalf("Admit() #%d = %v, want immediate", i+1, d.Verdict)
		}
	}

	d := l.Admit(ctx, models.WhatsApp)
	if d.Verdict != WaitUntil {
		t.Fatalf("Admit() #3 = %v, want wait_until", d.Verdict)
	}
	if want := clock.Now().Add(5 * time.Second); !d.At.Equal(want) {
		t.Errorf("Admit() #3 At = %v, want %v", d.At, want)
	}

	d.Cancel()
	again := l.Admit(ctx, models.WhatsApp)
	if !again.At.Equal(d.At) {
		t.Errorf("Admit() after Cancel At = %v, want %v", again.At, d.At)
	}

	if got := l.Admit(ctx, models.Snapchat).Verdict; got != Denied {
		t.Errorf("Admit(zero budget) = %v, want denied", got)
	}
	if got := l.Snapshot(ctx, models.WhatsApp).State; got != StateSaturated {
		t.Errorf("Snapshot().State = %v, want saturated", got)
	}
}

func TestTokenLimiter_MaxWait(t *testing.T) {
	clock := newFakeClock()
	l := NewTokenLimiter(budgets(1, 10*time.Second), WithClock(clock.Now), WithMaxWait(time.Second))
	ctx := context.Background()

	l.Admit(ctx, models.WhatsApp)
	if got := l.Admit(ctx, models.WhatsApp).Verdict; got != Denied {
		t.Fatalf("Admit() = %v, want denied", got)
	}

	clock.Advance(10 * time.Second)
	if got := l.Admit(ctx, models.WhatsApp).Verdict; got != Immediate {
		t.Errorf("Admit() after refill = %v, want immediate", got)
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLimiter(t *testing.T) {
	_, client := newTestRedis(t)
	clock := newFakeClock()
	l := NewRedisLimiter(client, budgets(2, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d := l.Admit(ctx, models.WhatsApp); d.Verdict != Immediate {
			t.Fatalf("Admit() #%d = %v, want immediate", i+1, d.Verdict)
		}
	}

	// The clock sits 30s into its window.
	next := clock.Now().Add(30 * time.Second)
	d := l.Admit(ctx, models.WhatsApp)
	if d.Verdict != WaitUntil || !d.At.Equal(next) {
		t.Fatalf("Admit() #3 = %v at %v, want wait_until at %v", d.Verdict, d.At, next)
	}

	l.Admit(ctx, models.WhatsApp)
	if got := l.Admit(ctx, models.WhatsApp).Verdict; got != Denied {
		t.Fatalf("Admit() #5 = %v, want denied", got)
	}

	d.Cancel()
	if got := l.Admit(ctx, models.WhatsApp); got.Verdict != WaitUntil || !got.At.Equal(next) {
		t.Errorf("Admit() after Cancel = %v at %v, want wait_until at %v", got.Verdict, got.At, next)
	}

	snap := l.Snapshot(ctx, models.WhatsApp)
	if snap.State != StateSaturated || snap.Reserved != 2 {
		t.Errorf("Snapshot() = %+v, want saturated with 2 reserved", snap)
	}
}

func TestRedisLimiter_FallsBackWhenRedisIsDown(t *testing.T) {
	mr, client := newTestRedis(t)
	clock := newFakeClock()
	l := NewRedisLimiter(client, budgets(1, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	mr.Close()

	if got := l.Admit(ctx, models.WhatsApp).Verdict; got != Immediate {
		t.Fatalf("Admit() = %v, want immediate from local window", got)
	}
	if got := l.Admit(ctx, models.WhatsApp).Verdict; got != WaitUntil {
		t.Errorf("Admit() = %v, want wait_until from local window", got)
	}
}
