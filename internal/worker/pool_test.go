package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailspool/internal/compose"
	"mailspool/internal/models"
)

type fakeClaim struct {
	rec       *models.ScheduledEmail
	completed bool
	failed    bool
	released  bool
}

func (c *fakeClaim) Record() *models.ScheduledEmail { return c.rec }
func (c *fakeClaim) Complete(context.Context) error { c.completed = true; return nil }
func (c *fakeClaim) Fail(context.Context) error     { c.failed = true; return nil }
func (c *fakeClaim) Release(context.Context)        { c.released = true }

// fakeClaimer mimics the store's claim query: oldest due record wins,
// completed records are gone.
type fakeClaimer struct {
	pending []*fakeClaim
	err     error
}

func (f *fakeClaimer) ClaimOneDue(_ context.Context, now time.Time, _ int) (Claim, error) {
	if f.err != nil {
		return nil, f.err
	}
	var oldest *fakeClaim
	for _, c := range f.pending {
		if c.completed || c.failed {
			continue
		}
		if c.rec.ScheduledAt.After(now) {
			continue
		}
		if oldest == nil || c.rec.ScheduledAt.Before(oldest.rec.ScheduledAt) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, nil
	}
	return oldest, nil
}

type fakeComposer struct {
	err error
}

func (f *fakeComposer) Compose(_ context.Context, template string, rcpt compose.Recipients, _ map[string]any, _ compose.Options) (*compose.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	to := rcpt.Addresses
	if len(to) == 0 {
		to = []string{"user@example.com"}
	}
	return &compose.Message{Subject: template, To: to}, nil
}

type fakeSender struct {
	sent []*compose.Message
	errs []error // consumed one per call, nil entries mean success
}

func (f *fakeSender) Send(_ context.Context, msg *compose.Message) (int, error) {
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return 0, err
	}
	f.sent = append(f.sent, msg)
	return len(msg.To), nil
}

func testPayload(t *testing.T, template string) []byte {
	t.Helper()
	data, err := models.EncodePayload(&models.Payload{
		Template: template,
		Custom:   &models.CustomParams{},
	})
	require.NoError(t, err)
	return data
}

func testLoop(claims Claimer, comp Composer, sender Sender) *Loop {
	return &Loop{
		Claims:       claims,
		Composer:     comp,
		Sender:       sender,
		Limiter:      rate.NewLimiter(rate.Inf, 0),
		Log:          zap.NewNop(),
		PollInterval: time.Millisecond,
		MaxAttempts:  10,
	}
}

func TestRunOnceDeliversOldestFirst(t *testing.T) {
	now := time.Now()
	// newer record listed first to prove ordering comes from the
	// scheduled timestamps, not insertion order
	claims := &fakeClaimer{pending: []*fakeClaim{
		{rec: &models.ScheduledEmail{ID: 2, Kind: models.KindCustom, ScheduledAt: now.Add(-time.Minute), Address: "b@example.com", Data: testPayload(t, "second")}},
		{rec: &models.ScheduledEmail{ID: 1, Kind: models.KindCustom, ScheduledAt: now.Add(-2 * time.Minute), Address: "a@example.com", Data: testPayload(t, "first")}},
	}}

	sender := &fakeSender{}
	loop := testLoop(claims, &fakeComposer{}, sender)

	require.True(t, loop.RunOnce(context.Background(), zap.NewNop()))
	require.True(t, loop.RunOnce(context.Background(), zap.NewNop()))
	require.False(t, loop.RunOnce(context.Background(), zap.NewNop()))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "first", sender.sent[0].Subject)
	assert.Equal(t, "second", sender.sent[1].Subject)

	// the first record was deleted before the second was claimed
	assert.True(t, claims.pending[0].completed)
	assert.True(t, claims.pending[1].completed)
}

func TestRunOnceTransientFailureLeavesRecordForRetry(t *testing.T) {
	now := time.Now()
	claim := &fakeClaim{rec: &models.ScheduledEmail{
		ID: 7, Kind: models.KindCustom, ScheduledAt: now.Add(-time.Minute),
		Address: "a@example.com", Data: testPayload(t, "retry_me"),
	}}
	claims := &fakeClaimer{pending: []*fakeClaim{claim}}
	sender := &fakeSender{errs: []error{errors.New("450 mailbox busy"), nil}}
	loop := testLoop(claims, &fakeComposer{}, sender)

	require.False(t, loop.RunOnce(context.Background(), zap.NewNop()))
	assert.True(t, claim.failed)
	assert.False(t, claim.completed)

	// the record stays claimable; the next pass sends it
	claim.failed = false
	require.True(t, loop.RunOnce(context.Background(), zap.NewNop()))
	assert.True(t, claim.completed)
	require.Len(t, sender.sent, 1)
}

func TestRunOnceClaimErrorTreatedAsNothingDue(t *testing.T) {
	claims := &fakeClaimer{err: errors.New("connection refused")}
	loop := testLoop(claims, &fakeComposer{}, &fakeSender{})

	assert.False(t, loop.RunOnce(context.Background(), zap.NewNop()))
}

func TestRunOnceNothingDue(t *testing.T) {
	now := time.Now()
	claims := &fakeClaimer{pending: []*fakeClaim{
		{rec: &models.ScheduledEmail{ID: 1, Kind: models.KindCustom, ScheduledAt: now.Add(time.Hour), Address: "a@example.com", Data: testPayload(t, "later")}},
	}}
	sender := &fakeSender{}
	loop := testLoop(claims, &fakeComposer{}, sender)

	assert.False(t, loop.RunOnce(context.Background(), zap.NewNop()))
	assert.Empty(t, sender.sent)
}

func TestRunOnceBadPayloadFailsRecord(t *testing.T) {
	now := time.Now()
	claim := &fakeClaim{rec: &models.ScheduledEmail{
		ID: 9, Kind: models.KindCustom, ScheduledAt: now.Add(-time.Minute),
		Address: "a@example.com", Data: []byte("not json"),
	}}
	claims := &fakeClaimer{pending: []*fakeClaim{claim}}
	loop := testLoop(claims, &fakeComposer{}, &fakeSender{})

	assert.False(t, loop.RunOnce(context.Background(), zap.NewNop()))
	assert.True(t, claim.failed)
}

func TestRunReleasesClaimOnShutdownMidAttempt(t *testing.T) {
	now := time.Now()
	claim := &fakeClaim{rec: &models.ScheduledEmail{
		ID: 3, Kind: models.KindCustom, ScheduledAt: now.Add(-time.Minute),
		Address: "a@example.com", Data: testPayload(t, "inflight"),
	}}
	claims := &fakeClaimer{pending: []*fakeClaim{claim}}

	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{errs: []error{errors.New("connection reset")}}
	loop := testLoop(claims, &fakeComposer{}, sender)

	cancel()
	loop.RunOnce(ctx, zap.NewNop())

	assert.True(t, claim.released)
	assert.False(t, claim.failed)
	assert.False(t, claim.completed)
}
