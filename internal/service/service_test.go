package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailspool/internal/compose"
)

type stubComposer struct {
	msg *compose.Message
	err error
}

func (s *stubComposer) Compose(context.Context, string, compose.Recipients, map[string]any, compose.Options) (*compose.Message, error) {
	return s.msg, s.err
}

type stubSender struct {
	accepted int
	err      error
	sent     int
}

func (s *stubSender) Send(context.Context, *compose.Message) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.sent++
	return s.accepted, nil
}

func TestSendNow(t *testing.T) {
	sender := &stubSender{accepted: 2}
	svc := &MailService{
		Composer: &stubComposer{msg: &compose.Message{Subject: "hi"}},
		Sender:   sender,
		Log:      zap.NewNop(),
	}

	n, err := svc.SendNow(context.Background(), "welcome",
		compose.Recipients{Addresses: []string{"a@example.com"}}, nil, compose.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, sender.sent)
}

func TestSendNowSurfacesComposeError(t *testing.T) {
	composeErr := &compose.InvalidArgumentError{Reason: "empty recipients"}
	sender := &stubSender{}
	svc := &MailService{
		Composer: &stubComposer{err: composeErr},
		Sender:   sender,
		Log:      zap.NewNop(),
	}

	_, err := svc.SendNow(context.Background(), "welcome", compose.Recipients{}, nil, compose.Options{})
	var invalid *compose.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, sender.sent)
}

func TestSendNowSurfacesTransportError(t *testing.T) {
	svc := &MailService{
		Composer: &stubComposer{msg: &compose.Message{}},
		Sender:   &stubSender{err: errors.New("451 try again")},
		Log:      zap.NewNop(),
	}

	_, err := svc.SendNow(context.Background(), "welcome",
		compose.Recipients{Addresses: []string{"a@example.com"}}, nil, compose.Options{})
	require.Error(t, err)
}
