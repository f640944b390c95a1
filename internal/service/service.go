package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailspool/internal/compose"
	"mailspool/internal/metrics"
	"mailspool/internal/models"
	"mailspool/internal/store"
)

// Composer builds a sendable message. Satisfied by *compose.Composer.
type Composer interface {
	Compose(ctx context.Context, template string, rcpt compose.Recipients, tctx map[string]any, opts compose.Options) (*compose.Message, error)
}

// Sender transmits a composed message. Satisfied by *transport.Manager.
type Sender interface {
	Send(ctx context.Context, msg *compose.Message) (int, error)
}

// MailService is the surface the rest of the system calls: schedule for
// later, send immediately, or retract pending sends. It owns its logger
// and collaborators explicitly; there is no package-level state.
type MailService struct {
	Store    *store.Store
	Composer Composer
	Sender   Sender
	Log      *zap.Logger
}

// Schedule records an email to be delivered no earlier than
// deliverAfter. The payload is re-rendered at delivery time.
func (s *MailService) Schedule(
	ctx context.Context,
	kind models.Kind,
	recipients store.Recipients,
	deliverAfter time.Time,
	payload *models.Payload,
) (int64, error) {

	id, err := s.Store.Schedule(ctx, kind, recipients, deliverAfter, payload)
	if err != nil {
		return 0, err
	}

	s.Log.Info("email scheduled",
		zap.Int64("id", id),
		zap.String("kind", string(kind)),
		zap.Time("deliver_after", deliverAfter),
	)
	return id, nil
}

// SendNow composes and transmits immediately, bypassing the store. Used
// for time-sensitive sends such as password resets; any failure surfaces
// synchronously to the caller.
func (s *MailService) SendNow(
	ctx context.Context,
	template string,
	rcpt compose.Recipients,
	tctx map[string]any,
	opts compose.Options,
) (int, error) {

	msg, err := s.Composer.Compose(ctx, template, rcpt, tctx, opts)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	accepted, err := s.Sender.Send(ctx, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmailFailures.Inc()
		return 0, err
	}

	metrics.EmailsSent.Inc()
	s.Log.Info("email sent",
		zap.String("template", template),
		zap.Int("accepted", accepted),
	)
	return accepted, nil
}

// CancelForUser retracts the user's pending scheduled emails, optionally
// restricted to one kind.
func (s *MailService) CancelForUser(ctx context.Context, userID int64, kind models.Kind) error {
	if err := s.Store.CancelForUser(ctx, userID, kind); err != nil {
		return err
	}
	metrics.Cancellations.Inc()
	s.Log.Info("scheduled emails cancelled",
		zap.Int64("user_id", userID),
		zap.String("kind", string(kind)),
	)
	return nil
}

// CancelForBareAddress retracts pending scheduled emails addressed to a
// bare address, used before an account exists.
func (s *MailService) CancelForBareAddress(ctx context.Context, address string, kind models.Kind) error {
	if err := s.Store.CancelForBareAddress(ctx, address, kind); err != nil {
		return err
	}
	metrics.Cancellations.Inc()
	s.Log.Info("scheduled emails cancelled",
		zap.String("address", address),
		zap.String("kind", string(kind)),
	)
	return nil
}
