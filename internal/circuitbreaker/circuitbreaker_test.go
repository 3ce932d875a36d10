package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/nps"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func fail(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig("ses"))
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sns", MaxFailures: 3, RecoveryTimeout: time.Minute})
	fail(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatalf("two failures should not open, got %s", cb.GetState())
	}
	fail(cb, 1)
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject")
	}
}

func TestCircuitBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	tests := []struct {
		name      string
		probeOK   bool
		wantState State
	}{
		{"probe succeeds", true, StateClosed},
		{"probe fails", false, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Name: "whatsapp", MaxFailures: 2, RecoveryTimeout: 30 * time.Second})
			fail(cb, 2)

			clock.advance(29 * time.Second)
			if cb.Allow() {
				t.Fatal("should still reject before the timeout")
			}

			clock.advance(time.Second)
			if !cb.Allow() {
				t.Fatal("should allow a probe after the timeout")
			}
			if cb.GetState() != StateHalfOpen {
				t.Fatalf("expected half-open, got %s", cb.GetState())
			}
			if cb.Allow() {
				t.Fatal("only one probe at a time")
			}

			if tt.probeOK {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.GetState() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, cb.GetState())
			}
		})
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "ses", MaxFailures: 3})
	fail(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	fail(cb, 2)
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset the failure count")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "stats", MaxFailures: 2, RecoveryTimeout: time.Hour})
	cb.Allow()
	cb.RecordSuccess()
	fail(cb, 2)
	cb.Allow() // rejected

	stats := cb.Stats()
	if stats.Name != "stats" || stats.State != "open" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalRequests != 4 || stats.TotalSuccesses != 1 || stats.TotalFailures != 2 || stats.TotalRejected != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.LastFailure == "" {
		t.Fatal("last failure should be set")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type mockSender struct {
	sendErr   error
	channel   string
	sendCalls int
}

func (m *mockSender) Send(ctx context.Context, msg *nps.Message) error {
	m.sendCalls++
	return m.sendErr
}

func (m *mockSender) SupportsChannel(channel string) bool {
	return channel == m.channel
}

func testMessage(channel string) *nps.Message {
	return &nps.Message{EnvelopeID: uuid.New(), Channel: channel, To: "+5511987654321", Body: "oi"}
}

func TestProtectedSender_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mock := &mockSender{channel: db.ChannelEmail}
	cb, clock := newTestBreaker(Config{Name: "ses", MaxFailures: 3, RecoveryTimeout: time.Minute})
	ps := NewProtectedSender(mock, cb, zap.NewNop())
	msg := testMessage(db.ChannelEmail)

	if err := ps.Send(ctx, msg); err != nil {
		t.Fatalf("healthy send: %v", err)
	}

	mock.sendErr = errors.New("ses throttled")
	for i := 0; i < 3; i++ {
		if err := ps.Send(ctx, msg); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("send %d should return the channel error, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	mock.sendCalls = 0
	if err := ps.Send(ctx, msg); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if mock.sendCalls != 0 {
		t.Fatal("channel must not be called while open")
	}

	clock.advance(time.Minute)
	mock.sendErr = nil
	if err := ps.Send(ctx, msg); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", cb.GetState())
	}
}

func TestProtectedSender_SupportsChannel(t *testing.T) {
	ps := NewProtectedSender(&mockSender{channel: db.ChannelWhatsApp}, New(DefaultConfig("whatsapp"), zap.NewNop()), zap.NewNop())
	if !ps.SupportsChannel(db.ChannelWhatsApp) {
		t.Fatal("should support whatsapp")
	}
	if ps.SupportsChannel(db.ChannelEmail) {
		t.Fatal("should not support email")
	}
	if ps.Breaker().Name() != "whatsapp" {
		t.Fatalf("breaker name = %s", ps.Breaker().Name())
	}
}
