package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"memberdeals-notifications/internal/common/config"
	"memberdeals-notifications/internal/common/logger"
)

// SMTPTransport is the default primary transport. Every send runs under the
// configured bounded timeout; the dial and protocol exchange happen in a
// goroutine so a hung server cannot hold a send past the deadline.
type SMTPTransport struct {
	cfg       config.TransportConfig
	fromName  string
	fromEmail string
	logger    logger.Logger
}

func NewSMTP(cfg config.TransportConfig, fromName, fromEmail string, log logger.Logger) *SMTPTransport {
	return &SMTPTransport{
		cfg:       cfg,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    log.WithFields(map[string]interface{}{"transport": "smtp"}),
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	messageID := t.generateMessageID(msg.To)
	raw := t.buildMessage(msg, messageID)

	done := make(chan error, 1)
	go func() {
		done <- t.deliver(msg.To, raw)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		return messageID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Verify opens and closes a connection to the SMTP server. Used at startup
// unless DISABLE_TRANSPORT_VERIFY is set.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	done := make(chan error, 1)
	go func() {
		client, err := smtp.Dial(addr)
		if err != nil {
			done <- fmt.Errorf("failed to connect to SMTP server: %w", err)
			return
		}
		defer client.Close()

		if t.cfg.UseTLS {
			tlsConfig := &tls.Config{ServerName: t.cfg.Host}
			if err = client.StartTLS(tlsConfig); err != nil {
				done <- fmt.Errorf("failed to start TLS: %w", err)
				return
			}
		}
		done <- client.Quit()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SMTPTransport) deliver(to string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	var auth smtp.Auth
	if t.cfg.User != "" && t.cfg.Pass != "" {
		auth = smtp.PlainAuth("", t.cfg.User, t.cfg.Pass, t.cfg.Host)
	}

	if t.cfg.UseTLS {
		return t.deliverWithTLS(addr, auth, to, raw)
	}

	return smtp.SendMail(addr, auth, t.fromEmail, []string{to}, raw)
}

func (t *SMTPTransport) deliverWithTLS(addr string, auth smtp.Auth, to string, raw []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: t.cfg.Host}
	if err = client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(t.fromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err = w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

func (t *SMTPTransport) buildMessage(msg *Message, messageID string) []byte {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("From: %s <%s>\r\n", t.fromName, t.fromEmail))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	builder.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	switch strings.ToLower(msg.Priority) {
	case "high":
		builder.WriteString("X-Priority: 1\r\n")
		builder.WriteString("Importance: high\r\n")
	case "low":
		builder.WriteString("X-Priority: 5\r\n")
		builder.WriteString("Importance: low\r\n")
	default:
		builder.WriteString("X-Priority: 3\r\n")
	}

	builder.WriteString("MIME-Version: 1.0\r\n")

	const boundary = "=_memberdeals_alt"
	if msg.HTML != "" && msg.Text != "" {
		builder.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary))
		builder.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		builder.WriteString(msg.Text)
		builder.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		builder.WriteString(msg.HTML)
		builder.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))
	} else if msg.HTML != "" {
		builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		builder.WriteString(msg.HTML)
	} else {
		builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		builder.WriteString(msg.Text)
	}

	return []byte(builder.String())
}

func (t *SMTPTransport) generateMessageID(to string) string {
	timestamp := time.Now().UnixNano()
	return fmt.Sprintf("<%d.%s@%s>", timestamp, sanitizeEmail(to), t.cfg.Host)
}

func sanitizeEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 {
		local := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, parts[0])

		if len(local) > 10 {
			local = local[:10]
		}
		if local != "" {
			return local
		}
	}
	return "user"
}
