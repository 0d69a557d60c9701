package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/habitloop/notifier/internal/models"
)

// defaultEmailTimeout bounds the SMTP session when the caller's context
// carries no deadline.
const defaultEmailTimeout = 30 * time.Second

// EmailSender delivers notifications over SMTP submission.
type EmailSender struct {
	addr     string
	from     string
	username string
	password string
}

func NewEmailSender(addr, from, username, password string) *EmailSender {
	return &EmailSender{
		addr:     addr,
		from:     from,
		username: username,
		password: password,
	}
}

func (e *EmailSender) Supports(channel string) bool {
	return channel == models.ChannelEmail
}

func (e *EmailSender) Deliver(ctx context.Context, rec *models.Recipient, payload *Payload) error {
	if rec.Email == "" {
		return fmt.Errorf("recipient %s has no email address", rec.ID)
	}

	dialer := &net.Dialer{Timeout: defaultEmailTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return fmt.Errorf("smtp connection to %s failed: %w", e.addr, err)
	}
	defer conn.Close()

	// The context deadline bounds every read and write on the connection, so
	// a hung server fails the attempt instead of blocking past the timeout.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(defaultEmailTimeout))
	}

	host, _, splitErr := net.SplitHostPort(e.addr)
	if splitErr != nil {
		host = e.addr
	}
	client, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("starttls failed: %w", err)
	}
	defer client.Close()

	if e.username != "" {
		if err := client.Auth(sasl.NewPlainClient("", e.username, e.password)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(e.from, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(rec.Email, nil); err != nil {
		return fmt.Errorf("RCPT TO %s rejected: %w", rec.Email, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := io.WriteString(w, buildMessage(e.from, rec.Email, payload)); err != nil {
		w.Close()
		return fmt.Errorf("smtp delivery to %s failed: %w", rec.Email, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp delivery to %s failed: %w", rec.Email, err)
	}

	return client.Quit()
}

func buildMessage(from, to string, payload *Payload) string {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + payload.Title + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(payload.Message)
	b.WriteString("\r\n")
	return b.String()
}
