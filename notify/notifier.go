package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Recipient addresses one account holder.
type Recipient struct {
	Email string
	Name  string
}

// Notifier delivers account lifecycle messages. Tokens passed to it are
// plaintext and must only ever leave through the delivery channel.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to Recipient, token string) error
	SendPasswordReset(ctx context.Context, to Recipient, token string) error
	SendWelcome(ctx context.Context, to Recipient) error
	SendPasswordChangedNotice(ctx context.Context, to Recipient) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) SendVerificationEmail(context.Context, Recipient, string) error { return nil }
func (Nop) SendPasswordReset(context.Context, Recipient, string) error     { return nil }
func (Nop) SendWelcome(context.Context, Recipient) error                   { return nil }
func (Nop) SendPasswordChangedNotice(context.Context, Recipient) error     { return nil }

// LogNotifier writes notifications to a zap logger instead of delivering
// them. Tokens are never logged; only their presence is.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger discards output.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) SendVerificationEmail(_ context.Context, to Recipient, token string) error {
	n.log("verification", to, token != "")
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, to Recipient, token string) error {
	n.log("password_reset", to, token != "")
	return nil
}

func (n *LogNotifier) SendWelcome(_ context.Context, to Recipient) error {
	n.log("welcome", to, false)
	return nil
}

func (n *LogNotifier) SendPasswordChangedNotice(_ context.Context, to Recipient) error {
	n.log("password_changed", to, false)
	return nil
}

func (n *LogNotifier) log(kind string, to Recipient, hasToken bool) {
	n.logger.Info("notification",
		zap.String("kind", kind),
		zap.String("email", to.Email),
		zap.Bool("has_token", hasToken),
	)
}

// Links builds the URLs embedded in messages. The token is appended as the
// "token" query parameter.
type Links struct {
	VerifyURL string
	ResetURL  string
}

func (l Links) verify(token string) (string, error) {
	return withToken(l.VerifyURL, token)
}

func (l Links) reset(token string) (string, error) {
	return withToken(l.ResetURL, token)
}

func withToken(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("notify: invalid link base: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("notify: link base must be absolute")
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var (
	_ Notifier = Nop{}
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*MailNotifier)(nil)
)
