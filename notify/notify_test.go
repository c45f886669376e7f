package notify

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type captureMailer struct {
	sent []Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg Message) error {
	m.sent = append(m.sent, msg)
	return m.err
}

func testLinks() Links {
	return Links{
		VerifyURL: "https://app.example.com/verify?src=mail",
		ResetURL:  "https://app.example.com/reset",
	}
}

func TestMailNotifierVerificationLink(t *testing.T) {
	mailer := &captureMailer{}
	n, err := NewMailNotifier(mailer, MailConfig{From: "no-reply@example.com", Product: "Acme", Links: testLinks()})
	require.NoError(t, err)

	to := Recipient{Email: "ada@example.com", Name: "Ada Lovelace"}
	require.NoError(t, n.SendVerificationEmail(context.Background(), to, "tok+/="))

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, []string{"ada@example.com"}, msg.To)
	assert.Equal(t, "no-reply@example.com", msg.From)
	assert.Contains(t, msg.Body, "Hello Ada Lovelace")
	assert.Contains(t, msg.Body, "Acme")

	var link string
	for _, line := range strings.Split(msg.Body, "\r\n") {
		if strings.HasPrefix(line, "https://") {
			link = line
		}
	}
	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/verify", u.Path)
	assert.Equal(t, "tok+/=", u.Query().Get("token"))
	assert.Equal(t, "mail", u.Query().Get("src"))
}

func TestMailNotifierNoticesCarryNoLink(t *testing.T) {
	mailer := &captureMailer{}
	n, err := NewMailNotifier(mailer, MailConfig{Links: testLinks()})
	require.NoError(t, err)

	to := Recipient{Email: "ada@example.com"}
	require.NoError(t, n.SendWelcome(context.Background(), to))
	require.NoError(t, n.SendPasswordChangedNotice(context.Background(), to))
	require.NoError(t, n.SendPasswordReset(context.Background(), to, "reset-token"))

	require.Len(t, mailer.sent, 3)
	assert.NotContains(t, mailer.sent[0].Body, "https://")
	assert.Contains(t, mailer.sent[0].Body, "Hello ada@example.com")
	assert.NotContains(t, mailer.sent[1].Body, "https://")
	assert.Contains(t, mailer.sent[2].Body, "https://app.example.com/reset?token=reset-token")
}

func TestMailNotifierPropagatesMailerError(t *testing.T) {
	boom := errors.New("boom")
	n, err := NewMailNotifier(&captureMailer{err: boom}, MailConfig{Links: testLinks()})
	require.NoError(t, err)

	err = n.SendWelcome(context.Background(), Recipient{Email: "ada@example.com"})
	assert.ErrorIs(t, err, boom)
}

func TestNewMailNotifierValidation(t *testing.T) {
	_, err := NewMailNotifier(nil, MailConfig{Links: testLinks()})
	require.Error(t, err)

	_, err = NewMailNotifier(&captureMailer{}, MailConfig{Links: Links{VerifyURL: "/relative", ResetURL: "https://x.example"}})
	require.Error(t, err)
}

func TestLogNotifierNeverLogsTokens(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.SendPasswordReset(context.Background(), Recipient{Email: "ada@example.com"}, "super-secret-token"))
	require.NoError(t, n.SendWelcome(context.Background(), Recipient{Email: "ada@example.com"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "password_reset", entries[0].ContextMap()["kind"])
	assert.Equal(t, true, entries[0].ContextMap()["has_token"])
	for _, e := range entries {
		for _, v := range e.ContextMap() {
			if s, ok := v.(string); ok {
				assert.NotContains(t, s, "super-secret-token")
			}
		}
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.SendVerificationEmail(context.Background(), Recipient{}, "t"))
	assert.NoError(t, n.SendPasswordChangedNotice(context.Background(), Recipient{}))
}
