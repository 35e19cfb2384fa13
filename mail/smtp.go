// Package mail sends email over SMTP.
package mail

import (
	"context"
	"fmt"
	"io"

	"github.com/phbpx/leadtrack"
	"gopkg.in/gomail.v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP implements leadtrack.Mailer.
type SMTP struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTP(cfg Config) *SMTP {
	return &SMTP{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send opens one SMTP session per message.
func (s *SMTP) Send(ctx context.Context, msg leadtrack.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(compose(s.from, msg)); err != nil {
		return fmt.Errorf("sending mail to %v: %w", msg.To, err)
	}
	return nil
}

func compose(from string, msg leadtrack.Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	for _, a := range msg.Attachments {
		data := a.Data
		m.Attach(a.Name,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}
	return m
}
