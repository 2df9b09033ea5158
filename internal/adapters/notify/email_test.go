package notify_test

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/alejandrodnm/settlebot/internal/adapters/notify"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func TestEmail_Send_BuildsMessage(t *testing.T) {
	var sent sentMail
	s, err := notify.NewEmailSender(notify.SMTPConfig{
		Server:   "smtp.example.com",
		Username: "bot@example.com",
		Password: "secret",
		To:       []string{"ops@example.com"},
	})
	require.NoError(t, err)
	s.WithSendMail(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = sentMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)}
		return nil
	})

	err = s.Send(context.Background(), domain.AlertEvent{
		Type:     domain.AlertLedgerError,
		Severity: domain.SeverityCritical,
		Title:    "Ledger release failed\r\nBcc: evil@example.com",
		Message:  "release of 2000.00 failed",
		Fields:   map[string]string{"position": "abc"},
		At:       at,
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", sent.addr, "puerto por defecto")
	assert.NotNil(t, sent.auth)
	assert.Equal(t, "bot@example.com", sent.from, "from cae al usuario SMTP")
	assert.Equal(t, []string{"ops@example.com"}, sent.to)
	assert.Contains(t, sent.msg, "Subject: [settlebot] [CRITICAL] Ledger release failed  Bcc: evil@example.com\r\n")
	assert.NotContains(t, sent.msg, "\r\nBcc:")
	assert.Contains(t, sent.msg, "release of 2000.00 failed")
	assert.Contains(t, sent.msg, "position: abc")
	assert.Equal(t, "email", s.Name())
}

func TestEmail_Send_PropagatesError(t *testing.T) {
	s, err := notify.NewEmailSender(notify.SMTPConfig{Server: "smtp.example.com", From: "a@b.c", To: []string{"x@y.z"}})
	require.NoError(t, err)
	s.WithSendMail(func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 authentication failed")
	})

	err = s.Send(context.Background(), domain.AlertEvent{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535")
}

func TestEmail_Send_CancelledContext(t *testing.T) {
	s, err := notify.NewEmailSender(notify.SMTPConfig{Server: "smtp.example.com", From: "a@b.c", To: []string{"x@y.z"}})
	require.NoError(t, err)
	called := false
	s.WithSendMail(func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, domain.AlertEvent{}), context.Canceled)
	assert.False(t, called)
}

func TestNewEmailSender_RequiresConfig(t *testing.T) {
	_, err := notify.NewEmailSender(notify.SMTPConfig{Server: "smtp.example.com"})
	assert.Error(t, err)

	_, err = notify.NewEmailSender(notify.SMTPConfig{Server: "smtp.example.com", To: []string{"x@y.z"}})
	assert.Error(t, err, "sin remitente")
}
