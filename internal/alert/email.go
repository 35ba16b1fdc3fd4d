package alert

import (
	"context"

	"github.com/pkg/errors"
	gomail "github.com/wneessen/go-mail"
)

// EmailConfig holds SMTP credentials and the alert recipient.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// EmailSink sends an HTML alert email over SMTP with mandatory STARTTLS.
type EmailSink struct {
	cfg  EmailConfig
	send func(ctx context.Context, m *gomail.Msg) error
}

// NewEmailSink creates the sink. Without credentials or a recipient it is a
// silent no-op.
func NewEmailSink(cfg EmailConfig) *EmailSink {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	s := &EmailSink{cfg: cfg}
	s.send = s.dialAndSend
	return s
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Enabled() bool {
	return s.cfg.Host != "" && s.cfg.Username != "" && s.cfg.Password != "" && s.cfg.To != ""
}

func (s *EmailSink) Send(ctx context.Context, a Alert) error {
	body, err := EmailHTML(a)
	if err != nil {
		return errors.Wrap(err, "failed to render alert email")
	}

	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return errors.Wrapf(err, "invalid sender %q", s.cfg.From)
	}
	if err := m.To(s.cfg.To); err != nil {
		return errors.Wrapf(err, "invalid recipient %q", s.cfg.To)
	}
	m.Subject(EmailSubject(a))
	m.SetBodyString(gomail.TypeTextHTML, body)
	m.AddAlternativeString(gomail.TypeTextPlain, PlainText(a))

	return s.send(ctx, m)
}

func (s *EmailSink) dialAndSend(ctx context.Context, m *gomail.Msg) error {
	c, err := gomail.NewClient(s.cfg.Host,
		gomail.WithPort(s.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create smtp client")
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return errors.Wrap(err, "failed to send alert email")
	}
	return nil
}
