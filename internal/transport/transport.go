package transport

import (
	"errors"
	"fmt"
	"io"
	"net/textproto"
)

// DeliveryError means the transport accepted the dialog but rejected
// every recipient. Treated as transient by the worker loop.
type DeliveryError struct {
	Recipients int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("transport: zero of %d recipients accepted", e.Recipients)
}

// TransportError carries the mail transport's protocol-level error code
// and text. Also treated as transient by the worker loop; reliably
// telling permanent SMTP failures from transient ones is not attempted.
type TransportError struct {
	Code int
	Text string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport: %d %s", e.Code, e.Text)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func asTransportErr(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		return &TransportError{Code: tp.Code, Text: tp.Msg, Err: err}
	}
	return &TransportError{Err: err}
}

// Client is the slice of *smtp.Client the manager drives. Kept small so
// tests can stand in a fake.
type Client interface {
	Noop() error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Reset() error
	Quit() error
	Close() error
}
