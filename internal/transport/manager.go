package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mailspool/internal/compose"
)

// Opening a connection is retried at most this many times total.
const maxDialAttempts = 3

// DialFunc opens a fresh transport connection. Errors wrapped with
// backoff.Permanent (auth, protocol) are not retried.
type DialFunc func(ctx context.Context) (Client, error)

// Manager owns the single outbound SMTP connection. Before reuse the
// cached connection is probed with NOOP; a dead one is dropped and
// reopened under exponential backoff.
type Manager struct {
	Dial DialFunc
	Log  *zap.Logger

	mu   sync.Mutex
	conn Client
}

func NewManager(host string, port int, user, password string, useTLS bool, timeout time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		Dial: smtpDialer(host, port, user, password, useTLS, timeout),
		Log:  log,
	}
}

func smtpDialer(host string, port int, user, password string, useTLS bool, timeout time.Duration) DialFunc {
	addr := fmt.Sprintf("%s:%d", host, port)
	return func(ctx context.Context) (Client, error) {
		d := net.Dialer{Timeout: timeout}
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
		}
		cl, err := smtp.NewClient(nc, host)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("smtp handshake: %w", err)
		}
		if useTLS {
			if ok, _ := cl.Extension("STARTTLS"); ok {
				if err := cl.StartTLS(&tls.Config{ServerName: host}); err != nil {
					cl.Close()
					return nil, backoff.Permanent(fmt.Errorf("smtp starttls: %w", err))
				}
			}
		}
		if user != "" {
			if err := cl.Auth(smtp.PlainAuth("", user, password, host)); err != nil {
				cl.Close()
				// Bad credentials will not improve on retry.
				return nil, backoff.Permanent(fmt.Errorf("smtp auth: %w", err))
			}
		}
		return cl, nil
	}
}

// Get hands back a live connection, probing any cached one first.
func (m *Manager) Get(ctx context.Context) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx)
}

func (m *Manager) getLocked(ctx context.Context) (Client, error) {
	if m.conn != nil {
		if err := m.conn.Noop(); err == nil {
			return m.conn, nil
		}
		m.Log.Warn("smtp connection failed liveness probe, reconnecting")
		m.conn.Close()
		m.conn = nil
	}

	var conn Client
	op := func() error {
		c, err := m.Dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(b, maxDialAttempts-1), ctx,
	))
	if err != nil {
		return nil, asTransportErr(err)
	}

	m.conn = conn
	return conn, nil
}

func (m *Manager) dropLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// Close quits the cached connection if one is open.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Quit()
		m.conn = nil
	}
}

// Send transmits one composed message and returns how many recipients
// the transport accepted. Zero accepted recipients is a DeliveryError;
// protocol failures come back as TransportError. Either way the caller
// decides whether to retry; nothing here is classified as permanent.
func (m *Manager) Send(ctx context.Context, msg *compose.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.getLocked(ctx)
	if err != nil {
		return 0, err
	}

	from, err := bareAddress(msg.From)
	if err != nil {
		return 0, asTransportErr(err)
	}
	if err := conn.Mail(from); err != nil {
		m.dropLocked()
		return 0, asTransportErr(err)
	}

	accepted := 0
	for _, to := range msg.To {
		addr, err := bareAddress(to)
		if err != nil {
			m.Log.Warn("skipping malformed recipient", zap.String("to", to), zap.Error(err))
			continue
		}
		if err := conn.Rcpt(addr); err != nil {
			// An SMTP status reply means the rejection is scoped to
			// this recipient; anything else means the connection died.
			var tp *textproto.Error
			if !errors.As(err, &tp) {
				m.dropLocked()
				return accepted, asTransportErr(err)
			}
			m.Log.Warn("recipient rejected by transport",
				zap.String("to", addr),
				zap.Int("code", tp.Code),
				zap.String("text", tp.Msg),
			)
			continue
		}
		accepted++
	}

	if accepted == 0 {
		conn.Reset()
		return 0, &DeliveryError{Recipients: len(msg.To)}
	}

	w, err := conn.Data()
	if err != nil {
		m.dropLocked()
		return 0, asTransportErr(err)
	}
	gm := toGomail(msg)
	if _, err := gm.WriteTo(w); err != nil {
		w.Close()
		m.dropLocked()
		return 0, asTransportErr(err)
	}
	if err := w.Close(); err != nil {
		m.dropLocked()
		return 0, asTransportErr(err)
	}

	return accepted, nil
}

func bareAddress(formatted string) (string, error) {
	a, err := mail.ParseAddress(formatted)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", formatted, err)
	}
	return a.Address, nil
}
