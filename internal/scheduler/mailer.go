package scheduler

import (
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPSender delivers alerts over plain SMTP.
type SMTPSender struct {
	Host string
	Port string
	From string
	To   []string
}

// Send implements AlertSender.
func (s *SMTPSender) Send(subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + strings.Join(s.To, ", "),
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := s.Host + ":" + s.Port
	if err := smtp.SendMail(addr, nil, s.From, s.To, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send via %s: %w", addr, err)
	}
	return nil
}
