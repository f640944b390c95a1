package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailspool/internal/compose"
	"mailspool/internal/metrics"
	"mailspool/internal/models"
	"mailspool/internal/store"
)

// Claim is one exclusively held due record. Satisfied by *store.Claim.
type Claim interface {
	Record() *models.ScheduledEmail
	Complete(ctx context.Context) error
	Fail(ctx context.Context) error
	Release(ctx context.Context)
}

// Claimer hands out due records, one at a time, under the store's row
// locks.
type Claimer interface {
	ClaimOneDue(ctx context.Context, now time.Time, maxAttempts int) (Claim, error)
}

// Composer builds a sendable message from a claimed record's payload.
// Satisfied by *compose.Composer.
type Composer interface {
	Compose(ctx context.Context, template string, rcpt compose.Recipients, tctx map[string]any, opts compose.Options) (*compose.Message, error)
}

// Sender transmits a composed message, returning the accepted recipient
// count. Satisfied by *transport.Manager.
type Sender interface {
	Send(ctx context.Context, msg *compose.Message) (int, error)
}

// NewStoreClaimer adapts the concrete store to the Claimer interface.
func NewStoreClaimer(s *store.Store) Claimer {
	return storeClaimer{s: s}
}

type storeClaimer struct {
	s *store.Store
}

func (c storeClaimer) ClaimOneDue(ctx context.Context, now time.Time, maxAttempts int) (Claim, error) {
	claim, err := c.s.ClaimOneDue(ctx, now, maxAttempts)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, nil
	}
	return claim, nil
}

// Loop drives claimed records to completion until its context is
// cancelled. One Loop may be shared by several goroutines; correctness
// across instances comes from the store's claim locks, not from
// anything in here.
type Loop struct {
	Claims   Claimer
	Composer Composer
	Sender   Sender
	Limiter  *rate.Limiter
	Log      *zap.Logger

	PollInterval time.Duration
	MaxAttempts  int
}

// StartPool launches worker goroutines running the loop.
func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	loop *Loop,
) {
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()
			loop.Run(ctx, id)
		}(i)
	}
}

// Run polls for due records until ctx is cancelled. After a successful
// delivery it re-polls immediately to drain backlog; when nothing is due
// or an attempt failed it sleeps one poll interval.
func (l *Loop) Run(ctx context.Context, id int) {
	logger := l.Log.With(zap.Int("worker_id", id))
	logger.Info("delivery worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("delivery worker shutting down")
			return
		default:
		}

		if l.RunOnce(ctx, logger) {
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("delivery worker shutting down")
			return
		case <-time.After(l.PollInterval):
		}
	}
}

// RunOnce claims and processes at most one record. Returns true only
// when a record was delivered and deleted, signalling the caller to poll
// again without sleeping. Failures never propagate out of a pass: a
// storage error on claim counts as nothing due, and a failed delivery
// leaves the record for a later pass with its attempts counter bumped.
func (l *Loop) RunOnce(ctx context.Context, logger *zap.Logger) bool {
	claim, err := l.Claims.ClaimOneDue(ctx, time.Now(), l.MaxAttempts)
	if err != nil {
		logger.Warn("claim failed, treating as nothing due", zap.Error(err))
		return false
	}
	if claim == nil {
		return false
	}

	metrics.ScheduledClaims.Inc()
	rec := claim.Record()

	if err := l.deliver(ctx, rec, logger); err != nil {
		logger.Warn("delivery attempt failed",
			zap.Int64("id", rec.ID),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err),
		)
		metrics.EmailFailures.Inc()

		if ctx.Err() != nil {
			// Shutting down mid-attempt: leave the record untouched so
			// the next worker to start retries it.
			claim.Release(context.Background())
			return false
		}
		if err := claim.Fail(context.Background()); err != nil {
			logger.Error("failed to record delivery failure", zap.Error(err))
		}
		return false
	}

	// Background context: a shutdown arriving between the send and the
	// delete must not strand a delivered record as still-due.
	if err := claim.Complete(context.Background()); err != nil {
		// The send already happened; if the delete is lost the record
		// stays due and may be sent again. At-least-once, by contract.
		logger.Error("failed to delete delivered record",
			zap.Int64("id", rec.ID),
			zap.Error(err),
		)
		return false
	}

	metrics.EmailsSent.Inc()
	return true
}

func (l *Loop) deliver(ctx context.Context, rec *models.ScheduledEmail, logger *zap.Logger) error {
	payload, err := models.DecodePayload(rec.Data, rec.Kind)
	if err != nil {
		return err
	}

	var rcpt compose.Recipients
	if rec.Address != "" {
		rcpt.Addresses = []string{rec.Address}
	} else {
		rcpt.UserIDs = rec.UserIDs
	}

	if err := l.Limiter.Wait(ctx); err != nil {
		return err
	}

	msg, err := l.Composer.Compose(ctx, payload.Template, rcpt, payload.RenderContext(), compose.Options{
		FromName:    payload.FromName,
		FromAddress: payload.FromAddress,
		ReplyTo:     payload.ReplyTo,
		Language:    payload.Language,
		RealmID:     payload.RealmID,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	accepted, err := l.Sender.Send(ctx, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	logger.Info("email sent",
		zap.Int64("id", rec.ID),
		zap.String("kind", string(rec.Kind)),
		zap.String("template", payload.Template),
		zap.Int("accepted", accepted),
	)
	return nil
}
