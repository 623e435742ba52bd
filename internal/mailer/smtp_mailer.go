package mailer

import (
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/wneessen/go-mail"

	"webgrave/internal/config"
	"webgrave/internal/models"
	"webgrave/internal/util"
)

// sender is the part of *mail.Client the mailer needs.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer delivers one-time codes over SMTP.
type SMTPMailer struct {
	client sender
	from   string
	// disabled logs codes instead of sending them (local development).
	disabled bool
}

func NewSMTPMailer(cfg *config.Config) (*SMTPMailer, error) {
	if cfg.SMTP.Disabled {
		util.Warn("SMTP disabled, verification codes will be written to the log")
		return &SMTPMailer{from: cfg.SMTP.From, disabled: true}, nil
	}

	opts := []mail.Option{
		mail.WithPort(cfg.SMTP.Port),
		mail.WithTimeout(cfg.SMTP.Timeout),
	}
	if cfg.SMTP.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTP.Username),
			mail.WithPassword(cfg.SMTP.Password),
		)
	}
	switch {
	case cfg.SMTP.Port == 465:
		opts = append(opts, mail.WithSSL())
	case cfg.SMTP.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.SMTP.From}, nil
}

// NewSMTPMailerWithSender is used by tests to capture outgoing messages.
func NewSMTPMailerWithSender(s sender, from string) *SMTPMailer {
	return &SMTPMailer{client: s, from: from}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, name, code string, purpose models.ChallengePurpose, validFor time.Duration) error {
	if m.disabled {
		util.Info("Verification code (SMTP disabled)",
			util.String("to", to),
			util.String("purpose", string(purpose)),
			util.String("code", code))
		return nil
	}

	msg, err := m.buildMessage(to, name, code, purpose, validFor)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	util.Debug("Verification code sent", util.String("to", to), util.String("purpose", string(purpose)))
	return nil
}

func (m *SMTPMailer) buildMessage(to, name, code string, purpose models.ChallengePurpose, validFor time.Duration) (*mail.Msg, error) {
	tpl, ok := templates[purpose]
	if !ok {
		return nil, fmt.Errorf("no mail template for purpose %q", purpose)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(tpl.subject)
	msg.SetDate()
	msg.SetMessageID()

	data := templateData{
		Name:    name,
		Code:    code,
		Minutes: int(validFor.Round(time.Minute) / time.Minute),
	}
	if err := msg.SetBodyTextTemplate(tpl.text, data); err != nil {
		return nil, fmt.Errorf("failed to render mail: %w", err)
	}
	if err := msg.AddAlternativeHTMLTemplate(tpl.html, data); err != nil {
		return nil, fmt.Errorf("failed to render mail: %w", err)
	}
	return msg, nil
}

type templateData struct {
	Name    string
	Code    string
	Minutes int
}

type mailTemplate struct {
	subject string
	text    *template.Template
	html    *htmltemplate.Template
}

var templates = map[models.ChallengePurpose]mailTemplate{
	models.PurposeVerifyEmail: {
		subject: "Your WebGrave verification code",
		text: template.Must(template.New("verify.txt").Parse(
			"Hello {{.Name}},\n\nYour WebGrave verification code is {{.Code}}.\n" +
				"It expires in {{.Minutes}} minutes.\n\nIf you did not create an account you can ignore this email.\n")),
		html: htmltemplate.Must(htmltemplate.New("verify.html").Parse(
			`<p>Hello {{.Name}},</p><p>Your WebGrave verification code is <strong>{{.Code}}</strong>.</p>` +
				`<p>It expires in {{.Minutes}} minutes.</p><p>If you did not create an account you can ignore this email.</p>`)),
	},
	models.PurposePasswordReset: {
		subject: "Reset your WebGrave password",
		text: template.Must(template.New("reset.txt").Parse(
			"Hello {{.Name}},\n\nUse code {{.Code}} to reset your WebGrave password.\n" +
				"It expires in {{.Minutes}} minutes.\n\nIf you did not ask for a reset, your password is unchanged.\n")),
		html: htmltemplate.Must(htmltemplate.New("reset.html").Parse(
			`<p>Hello {{.Name}},</p><p>Use code <strong>{{.Code}}</strong> to reset your WebGrave password.</p>` +
				`<p>It expires in {{.Minutes}} minutes.</p><p>If you did not ask for a reset, your password is unchanged.</p>`)),
	},
}
