package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/wneessen/go-mail"
)

var ErrEmailNotConfigured = errors.New("email notifier requires host, from and at least one recipient")

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	StartTLS bool // require STARTTLS; otherwise it is used when offered
	Timeout  time.Duration
}

// Enabled reports whether enough is configured to send mail.
func (c EmailConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

// Email sends failure reports over SMTP.
type Email struct {
	config EmailConfig
}

// NewEmail creates an email notifier.
func NewEmail(config EmailConfig) (*Email, error) {
	if !config.Enabled() {
		return nil, ErrEmailNotConfigured
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	return &Email{config: config}, nil
}

// Notify sends one message to all recipients.
func (e *Email) Notify(ctx context.Context, record domain.FailureRecord) error {
	msg, err := e.message(record)
	if err != nil {
		return err
	}

	policy := mail.TLSOpportunistic
	if e.config.StartTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(e.config.Port),
		mail.WithTimeout(e.config.Timeout),
		mail.WithTLSPolicy(policy),
	}
	if e.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.config.Username),
			mail.WithPassword(e.config.Password),
		)
	}

	client, err := mail.NewClient(e.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("email: create client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("email: send via %s: %w", e.config.Host, err)
	}
	return nil
}

func (e *Email) message(record domain.FailureRecord) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.config.From); err != nil {
		return nil, fmt.Errorf("email: from address: %w", err)
	}
	if err := msg.To(e.config.To...); err != nil {
		return nil, fmt.Errorf("email: recipient address: %w", err)
	}
	msg.Subject(record.Subject())
	msg.SetBodyString(mail.TypeTextPlain, emailBody(record))
	return msg, nil
}

func emailBody(record domain.FailureRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deployment of %s version %s to %s failed.\n\n", record.App, record.Version, record.Environment)
	fmt.Fprintf(&b, "Reason:      %s\n", record.Reason)
	if record.RolledBack {
		b.WriteString("Rollback:    previous version restored\n")
	} else {
		b.WriteString("Rollback:    not restored, service is down\n")
	}
	fmt.Fprintf(&b, "Run:         %s\n", record.RunID)
	fmt.Fprintf(&b, "Occurred at: %s\n", record.OccurredAt.Format(time.RFC3339))
	return b.String()
}
