// Package email sends notification mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// AppURL is the base used to build links back to the app.
	AppURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("email has no recipients")
	}

	const boundary = "boundary-artive"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ForkNotice describes a new fork for the author of the node it derives from.
type ForkNotice struct {
	RecipientName string
	ForkerName    string
	ParentTitle   string
	ForkID        string
	ForkSummary   string
}

type forkNoticeData struct {
	ForkNotice
	AppName string
	ForkURL string
}

// SendForkNotification tells to that their work was forked.
func (s *Service) SendForkNotification(to string, notice ForkNotice) error {
	data := forkNoticeData{
		ForkNotice: notice,
		AppName:    "Artive",
		ForkURL:    strings.TrimRight(s.config.AppURL, "/") + "/forks/" + notice.ForkID,
	}

	html, err := renderTemplate(forkNoticeTmpl, data)
	if err != nil {
		return fmt.Errorf("render fork notice: %w", err)
	}
	text := fmt.Sprintf("%s forked %q: %s\n%s", notice.ForkerName, notice.ParentTitle, notice.ForkSummary, data.ForkURL)
	subject := fmt.Sprintf("%s forked %q", notice.ForkerName, notice.ParentTitle)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

var forkNoticeTmpl = template.Must(template.New("fork").Parse(forkNoticeTemplate))

func renderTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const forkNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your work was forked on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #7a3cff; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #7a3cff; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .summary { background: #f5f0ff; padding: 12px; border-radius: 4px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.ForkerName}} forked <strong>{{.ParentTitle}}</strong>.</p>

    <p class="summary">{{.ForkSummary}}</p>

    <p>
        <a href="{{.ForkURL}}" class="button">See the fork</a>
    </p>

    <div class="footer">
        <p>You get this email because you authored the work that was forked.</p>
    </div>
</body>
</html>`
