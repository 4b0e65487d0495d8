// Package email delivers analysis notifications through the configured SMTP
// relay.
package email

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"callscan/internal/models"
)

const sendTimeout = 30 * time.Second

// Sender delivers one message over SMTP with STARTTLS.
type Sender interface {
	Send(settings models.SMTPSettings, to, subject, htmlBody string) error
}

// SMTPSender is the production Sender.
type SMTPSender struct{}

func (SMTPSender) Send(settings models.SMTPSettings, to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)

	conn, err := net.DialTimeout("tcp", addr, sendTimeout)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(sendTimeout)); err != nil {
		conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, settings.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: settings.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	auth := smtp.PlainAuth("", settings.Username, settings.AppPassword, settings.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := client.Mail(settings.FromAddress); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s",
		settings.FromAddress, to, subject, htmlBody)
	if _, err := wc.Write([]byte(msg)); err != nil {
		wc.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp finish: %w", err)
	}
	return client.Quit()
}

// Permanent reports whether a send failure is a hard rejection: SMTP 5xx
// replies (bad mailbox, policy refusal) never succeed on retry. Everything
// else, including connection failures and 4xx replies, is retried.
func Permanent(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code >= 500 && proto.Code < 600
	}
	return false
}
