// Package mail renders transactional mails with hermes and delivers them
// through mailgun.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/matcornic/hermes/v2"
	"go.uber.org/zap"
)

// Config configures the mailer.
type Config struct {
	Enabled     bool
	Domain      string
	APIKey      string
	EURegion    bool
	From        string
	ProductName string
	ProductLink string
	SendTimeout time.Duration
}

// Deliverer hands a rendered message to a provider.
type Deliverer interface {
	Deliver(ctx context.Context, from, subject, html, text, to string) error
}

// Mailer renders and sends mails.
type Mailer struct {
	cfg       Config
	hermes    hermes.Hermes
	deliverer Deliverer
	logger    *zap.Logger
}

// New builds a Mailer backed by mailgun.
func New(cfg Config, logger *zap.Logger) *Mailer {
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.EURegion {
		mg.SetAPIBase(mailgun.APIBaseEU)
	}
	return NewWithDeliverer(cfg, &mailgunDeliverer{client: mg}, logger)
}

// NewWithDeliverer builds a Mailer using d for delivery.
func NewWithDeliverer(cfg Config, d Deliverer, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Incident Tracker"
	}
	return &Mailer{
		cfg: cfg,
		hermes: hermes.Hermes{
			Theme:         new(hermes.Default),
			TextDirection: hermes.TDLeftToRight,
			Product: hermes.Product{
				Name:        cfg.ProductName,
				Link:        cfg.ProductLink,
				TroubleText: "If the '{ACTION}' button does not work, copy and paste the URL below into your web browser.",
			},
		},
		deliverer: d,
		logger:    logger,
	}
}

// SendPasswordReset sends the recovery link to email.
func (m *Mailer) SendPasswordReset(ctx context.Context, email, name, link string) error {
	if !m.cfg.Enabled {
		m.logger.Info("mail delivery disabled, skipping password reset mail")
		return nil
	}

	html, text, err := m.RenderPasswordReset(name, link)
	if err != nil {
		return fmt.Errorf("render password reset mail: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	if err := m.deliverer.Deliver(ctx, m.cfg.From, "Password recovery", html, text, email); err != nil {
		return fmt.Errorf("deliver password reset mail: %w", err)
	}
	m.logger.Debug("password reset mail sent")
	return nil
}

// RenderPasswordReset returns the HTML and plain text bodies of the mail.
func (m *Mailer) RenderPasswordReset(name, link string) (string, string, error) {
	email := hermes.Email{
		Body: hermes.Body{
			Name: name,
			Intros: []string{
				"We received a request to reset the password of your account.",
			},
			Actions: []hermes.Action{
				{
					Instructions: "Click the button below to choose a new password:",
					Button: hermes.Button{
						Color: "#2E86C1",
						Text:  "Reset password",
						Link:  link,
					},
				},
			},
			Outros: []string{
				"This link is valid for 1 hour. After that you will have to request a new one.",
				"If you did not request this change, you can ignore this message.",
			},
		},
	}

	html, err := m.hermes.GenerateHTML(email)
	if err != nil {
		return "", "", err
	}
	text, err := m.hermes.GeneratePlainText(email)
	if err != nil {
		return "", "", err
	}
	return html, text, nil
}

type mailgunDeliverer struct {
	client *mailgun.MailgunImpl
}

func (d *mailgunDeliverer) Deliver(ctx context.Context, from, subject, html, text, to string) error {
	message := d.client.NewMessage(from, subject, text, to)
	message.SetHtml(html)
	_, _, err := d.client.Send(ctx, message)
	return err
}
