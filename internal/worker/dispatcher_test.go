package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/nps"
)

type fakeScheduler struct {
	mu        sync.Mutex
	envelopes []*db.Envelope
	campaigns map[uuid.UUID]*db.Campaign
	recorded  map[uuid.UUID]string
	errors    map[uuid.UUID]string
	listErr   error
	recordErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		campaigns: make(map[uuid.UUID]*db.Campaign),
		recorded:  make(map[uuid.UUID]string),
		errors:    make(map[uuid.UUID]string),
	}
}

func (f *fakeScheduler) ListDispatchable(ctx context.Context, now time.Time) ([]*db.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*db.Envelope
	for _, e := range f.envelopes {
		if e.Status == db.EnvelopePending && !e.EligibleAt.After(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeScheduler) RecordAttempt(ctx context.Context, id uuid.UUID, result string, errorText *string) (*db.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, apperr.Storage("record envelope attempt", err)
	}
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	for _, e := range f.envelopes {
		if e.ID != id {
			continue
		}
		if e.Status != db.EnvelopePending {
			return nil, apperr.ErrInvalidTransition
		}
		e.Status = result
		e.Attempts++
		f.recorded[id] = result
		if errorText != nil {
			f.errors[id] = *errorText
		}
		return e, nil
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeScheduler) Campaign(ctx context.Context, id uuid.UUID) (*db.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", apperr.ErrNotFound, id)
	}
	return c, nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []*nps.Message
	failTo   map[string]bool
}

func (s *recordingSender) Send(ctx context.Context, msg *nps.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if s.failTo[msg.To] {
		return errors.New("gateway rejected number")
	}
	return nil
}

func (s *recordingSender) SupportsChannel(channel string) bool { return true }

type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	calls int
	ttl   time.Duration
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.ttl = ttl
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

var cycleNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(f *fakeScheduler) (*db.Campaign, []*db.Envelope) {
	c := &db.Campaign{ID: uuid.New(), Name: "Pós-venda", Active: true, MessageTemplate: "Oi {{.CustomerName}}, pedido {{.OrderID}}"}
	f.campaigns[c.ID] = c
	envs := []*db.Envelope{
		{ID: uuid.New(), CampaignID: c.ID, OrderID: 1, CustomerName: "Ana", Contact: "+5511900000001", Channel: db.ChannelSMS, EligibleAt: cycleNow.Add(-time.Hour), Status: db.EnvelopePending},
		{ID: uuid.New(), CampaignID: c.ID, OrderID: 2, CustomerName: "Bia", Contact: "+5511900000002", Channel: db.ChannelWhatsApp, EligibleAt: cycleNow, Status: db.EnvelopePending},
		{ID: uuid.New(), CampaignID: c.ID, OrderID: 3, CustomerName: "Caio", Contact: "+5511900000003", Channel: db.ChannelSMS, EligibleAt: cycleNow.Add(time.Second), Status: db.EnvelopePending},
	}
	f.envelopes = envs
	return c, envs
}

func TestRunOnce_SendsEligibleAndRecords(t *testing.T) {
	sched := newFakeScheduler()
	_, envs := seed(sched)
	sender := &recordingSender{failTo: map[string]bool{"+5511900000002": true}}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, &memLocker{held: map[string]string{}}, Config{}, zap.NewNop())

	summary, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Listed, "the third envelope is not eligible yet")
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, summary.Errored)

	require.Len(t, sender.messages, 2)
	assert.Equal(t, "Oi Ana, pedido 1", sender.messages[0].Body)

	assert.Equal(t, db.EnvelopeSent, sched.recorded[envs[0].ID])
	assert.Equal(t, db.EnvelopeErrored, sched.recorded[envs[1].ID])
	assert.Contains(t, sched.errors[envs[1].ID], "gateway rejected number")
	assert.NotContains(t, sched.recorded, envs[2].ID)

	// Nothing left to send at the same instant.
	summary, err = d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Listed)
}

func TestRunOnce_MissingCampaignIsAnErroredAttempt(t *testing.T) {
	sched := newFakeScheduler()
	_, envs := seed(sched)
	envs[0].CampaignID = uuid.New()
	sender := &recordingSender{}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, nil, Config{}, zap.NewNop())

	summary, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errored)
	assert.Equal(t, 1, summary.Sent)
	assert.Contains(t, sched.errors[envs[0].ID], "not found")
}

func TestRunOnce_LockHeld(t *testing.T) {
	sched := newFakeScheduler()
	seed(sched)
	locker := &memLocker{held: map[string]string{DispatchLockKey: "other-instance"}}
	sender := &recordingSender{}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, locker, Config{}, zap.NewNop())

	_, err := d.RunOnce(context.Background(), cycleNow)
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, sender.messages)
}

func TestRunOnce_ReleasesLock(t *testing.T) {
	sched := newFakeScheduler()
	seed(sched)
	locker := &memLocker{held: map[string]string{}}
	d := NewDispatcher(sched, nps.NewRenderer(""), &recordingSender{}, locker, Config{}, zap.NewNop())

	_, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	_, err = d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Empty(t, locker.held)
	assert.Equal(t, 2, locker.calls)
}

func TestRunOnce_StorageErrorsAbort(t *testing.T) {
	sched := newFakeScheduler()
	seed(sched)
	sched.recordErr = apperr.Storage("record envelope attempt", errors.New("connection reset"))
	d := NewDispatcher(sched, nps.NewRenderer(""), &recordingSender{}, nil, Config{}, zap.NewNop())

	_, err := d.RunOnce(context.Background(), cycleNow)
	assert.ErrorIs(t, err, apperr.ErrStorage)

	sched.recordErr = nil
	sched.listErr = apperr.Storage("query dispatchable envelopes", errors.New("connection reset"))
	_, err = d.RunOnce(context.Background(), cycleNow)
	assert.ErrorIs(t, err, apperr.ErrStorage)
}

func TestRunOnce_AlreadyRecordedIsSkipped(t *testing.T) {
	sched := newFakeScheduler()
	_, envs := seed(sched)
	sender := &racingSender{sched: sched, target: envs[0].ID}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, nil, Config{}, zap.NewNop())

	summary, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Sent)
}

// racingSender records the target envelope itself, as a concurrent caller would.
type racingSender struct {
	sched  *fakeScheduler
	target uuid.UUID
}

func (s *racingSender) Send(ctx context.Context, msg *nps.Message) error {
	if msg.EnvelopeID == s.target {
		_, _ = s.sched.RecordAttempt(ctx, msg.EnvelopeID, db.EnvelopeSent, nil)
	}
	return nil
}

func (s *racingSender) SupportsChannel(string) bool { return true }

// slowSender hands a message over only after delay, ignoring cancellation
// the way a remote API call already in flight would.
type slowSender struct {
	recordingSender
	delay time.Duration
}

func (s *slowSender) Send(ctx context.Context, msg *nps.Message) error {
	time.Sleep(s.delay)
	return s.recordingSender.Send(ctx, msg)
}

func TestRunOnce_SendPastDeadlineIsRecordedOnce(t *testing.T) {
	sched := newFakeScheduler()
	_, envs := seed(sched)
	sender := &slowSender{delay: 60 * time.Millisecond}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, &memLocker{held: map[string]string{}},
		Config{CycleTimeout: 30 * time.Millisecond, SendTimeout: 10 * time.Millisecond}, zap.NewNop())

	summary, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent, "the cycle stops once its deadline has passed")

	summary, err = d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Listed, "the first envelope must not be listed again")
	assert.Equal(t, 1, summary.Sent)

	require.Len(t, sender.messages, 2)
	assert.NotEqual(t, sender.messages[0].EnvelopeID, sender.messages[1].EnvelopeID)
	for _, env := range envs[:2] {
		assert.Equal(t, db.EnvelopeSent, env.Status)
		assert.Equal(t, 1, env.Attempts)
	}
}

func TestRunOnce_NoSendWithoutBudget(t *testing.T) {
	sched := newFakeScheduler()
	seed(sched)
	sender := &recordingSender{}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, nil, Config{SendTimeout: time.Second}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	summary, err := d.RunOnce(ctx, cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Listed)
	assert.Zero(t, summary.Sent+summary.Errored)
	assert.Empty(t, sender.messages)
	assert.Empty(t, sched.recorded)
}

func TestRunOnce_LockOutlivesCycle(t *testing.T) {
	sched := newFakeScheduler()
	seed(sched)
	locker := &memLocker{held: map[string]string{}}
	d := NewDispatcher(sched, nps.NewRenderer(""), &recordingSender{}, locker, Config{CycleTimeout: time.Minute}, zap.NewNop())

	_, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Greater(t, locker.ttl, time.Minute)
}

func TestRunOnce_InactiveCampaignIsAnErroredAttempt(t *testing.T) {
	sched := newFakeScheduler()
	c, envs := seed(sched)
	c.Active = false
	sender := &recordingSender{}
	d := NewDispatcher(sched, nps.NewRenderer(""), sender, nil, Config{}, zap.NewNop())

	summary, err := d.RunOnce(context.Background(), cycleNow)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Errored)
	assert.Empty(t, sender.messages)
	assert.Contains(t, sched.errors[envs[0].ID], "inactive")
}
