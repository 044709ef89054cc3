package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPClient is the reference Client implementation over a plain SMTP relay.
// The dial honors the context deadline; the SMTP conversation itself is
// bounded by a connection deadline, since net/smtp has no context support.
type SMTPClient struct {
	addr string
	auth smtp.Auth
}

// NewSMTPClient creates an SMTPClient for the given relay address
// (host:port). username may be empty for unauthenticated relays.
func NewSMTPClient(addr, username, password string) *SMTPClient {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPClient{addr: addr, auth: auth}
}

func (c *SMTPClient) Send(ctx context.Context, msg Message) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	conn.SetDeadline(deadline) //nolint:errcheck

	host := c.addr
	if h, _, err := net.SplitHostPort(c.addr); err == nil {
		host = h
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if c.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(c.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp MAIL: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprintf(w, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		msg.From, strings.Join(msg.To, ", "), msg.Subject, msg.Body); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message: %w", err)
	}

	return client.Quit()
}
