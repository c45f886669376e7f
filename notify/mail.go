package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
)

// MailNotifier renders plain text messages and hands them to a Mailer.
type MailNotifier struct {
	mailer  Mailer
	from    string
	product string
	links   Links
}

// MailConfig configures a MailNotifier.
type MailConfig struct {
	From    string
	Product string
	Links   Links
}

// NewMailNotifier validates cfg and returns a MailNotifier.
func NewMailNotifier(mailer Mailer, cfg MailConfig) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	if _, err := cfg.Links.verify("x"); err != nil {
		return nil, fmt.Errorf("notify: verify url: %w", err)
	}
	if _, err := cfg.Links.reset("x"); err != nil {
		return nil, fmt.Errorf("notify: reset url: %w", err)
	}
	if cfg.Product == "" {
		cfg.Product = "your account"
	}
	return &MailNotifier{mailer: mailer, from: cfg.From, product: cfg.Product, links: cfg.Links}, nil
}

var (
	verificationTmpl = template.Must(template.New("verification").Parse(
		"Hello {{.Name}},\r\n\r\nConfirm your email address for {{.Product}} by opening:\r\n\r\n{{.Link}}\r\n"))
	resetTmpl = template.Must(template.New("reset").Parse(
		"Hello {{.Name}},\r\n\r\nA password reset was requested for {{.Product}}. Open the link below to choose a new password:\r\n\r\n{{.Link}}\r\n\r\nIf you did not ask for this, ignore this message.\r\n"))
	welcomeTmpl = template.Must(template.New("welcome").Parse(
		"Hello {{.Name}},\r\n\r\nYour email address is confirmed. Welcome to {{.Product}}.\r\n"))
	changedTmpl = template.Must(template.New("changed").Parse(
		"Hello {{.Name}},\r\n\r\nThe password for {{.Product}} was just changed. If this was not you, reset your password immediately.\r\n"))
)

type mailData struct {
	Name    string
	Product string
	Link    string
}

func (n *MailNotifier) SendVerificationEmail(ctx context.Context, to Recipient, token string) error {
	link, err := n.links.verify(token)
	if err != nil {
		return err
	}
	return n.send(ctx, to, "Confirm your email address", verificationTmpl, link)
}

func (n *MailNotifier) SendPasswordReset(ctx context.Context, to Recipient, token string) error {
	link, err := n.links.reset(token)
	if err != nil {
		return err
	}
	return n.send(ctx, to, "Reset your password", resetTmpl, link)
}

func (n *MailNotifier) SendWelcome(ctx context.Context, to Recipient) error {
	return n.send(ctx, to, "Welcome", welcomeTmpl, "")
}

func (n *MailNotifier) SendPasswordChangedNotice(ctx context.Context, to Recipient) error {
	return n.send(ctx, to, "Your password was changed", changedTmpl, "")
}

func (n *MailNotifier) send(ctx context.Context, to Recipient, subject string, tmpl *template.Template, link string) error {
	name := to.Name
	if name == "" {
		name = to.Email
	}
	var body bytes.Buffer
	if err := tmpl.Execute(&body, mailData{Name: name, Product: n.product, Link: link}); err != nil {
		return fmt.Errorf("notify: render %s: %w", tmpl.Name(), err)
	}
	return n.mailer.Send(ctx, Message{
		From:    n.from,
		To:      []string{to.Email},
		Subject: subject,
		Body:    body.String(),
	})
}
