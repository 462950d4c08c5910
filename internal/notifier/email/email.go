// Package email implements an SMTP-based email notifier
package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/notifier"
)

// Email implements the Notifier interface for SMTP email
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// New creates a new Email notifier
func New(host string, port int, username, password, from string, to []string) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Init(cfg notifier.Config) error {
	if host, ok := cfg.Params["host"].(string); ok {
		e.host = host
	}
	switch port := cfg.Params["port"].(type) {
	case int:
		e.port = port
	case float64:
		e.port = int(port)
	}
	if username, ok := cfg.Params["username"].(string); ok {
		e.username = username
	}
	if password, ok := cfg.Params["password"].(string); ok {
		e.password = password
	}
	if from, ok := cfg.Params["from"].(string); ok {
		e.from = from
	}
	switch to := cfg.Params["to"].(type) {
	case []string:
		e.to = to
	case []any:
		e.to = e.to[:0]
		for _, addr := range to {
			e.to = append(e.to, fmt.Sprint(addr))
		}
	}

	if e.host == "" || e.from == "" || len(e.to) == 0 {
		return fmt.Errorf("email: host, from, and to are required")
	}
	if e.port == 0 {
		e.port = 587
	}
	return nil
}

func (e *Email) Send(a alert.Alert) error {
	subject := fmt.Sprintf("[%s] SignalFlow alert: %s", strings.ToUpper(a.Severity), a.Rule)
	return e.sendEmail(subject, e.formatAlert(a))
}

func (e *Email) SendBatch(alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	subject := fmt.Sprintf("SignalFlow Digest: %d Portfolio Alerts", len(alerts))

	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString("<h2>SignalFlow Portfolio Alerts</h2>")
	sb.WriteString(fmt.Sprintf("<p>Generated at: %s</p>", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString("<hr>")

	for _, a := range alerts {
		sb.WriteString(e.formatAlertHTML(a))
		sb.WriteString("<hr>")
	}

	sb.WriteString("</body></html>")

	return e.sendEmail(subject, sb.String())
}

func (e *Email) formatAlert(a alert.Alert) string {
	return fmt.Sprintf(`
SignalFlow Portfolio Alert

Rule: %s
Severity: %s
Category: %s
Value: %.4g
Message: %s
Strategies: %s
Recommended: %s
Time: %s
`,
		a.Rule,
		a.Severity,
		a.Category,
		a.Value,
		a.Message,
		strings.Join(a.Strategies, ", "),
		strings.Join(a.Recommended, "; "),
		a.Time.Format("2006-01-02 15:04:05"),
	)
}

func (e *Email) formatAlertHTML(a alert.Alert) string {
	color := "#17a2b8" // blue for info
	switch a.Severity {
	case alert.SeverityCritical:
		color = "#dc3545"
	case alert.SeverityWarning:
		color = "#fd7e14"
	}

	return fmt.Sprintf(`
<div style="margin: 10px 0;">
  <h3 style="color: %s;">%s - %s</h3>
  <p><strong>Value:</strong> %.4g</p>
  <p>%s</p>
  <p><strong>Recommended:</strong> %s</p>
  <p><small>%s</small></p>
</div>
`,
		color,
		a.Rule,
		a.Severity,
		a.Value,
		a.Message,
		strings.Join(a.Recommended, "; "),
		a.Time.Format("2006-01-02 15:04:05"),
	)
}

func (e *Email) sendEmail(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	contentType := "text/plain"
	if strings.Contains(body, "<html>") {
		contentType = "text/html"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.from,
		strings.Join(e.to, ","),
		subject,
		contentType,
		body,
	)

	return smtp.SendMail(addr, auth, e.from, e.to, []byte(msg))
}
