// Package mailer implements core.Mailer, sending a pipeline's terminal
// notification to its configured recipients (§1, §4.5).
package mailer

import (
	"context"
	"fmt"

	mail "github.com/go-mail/mail/v2"

	"networkteam.com/lab/pipelinecore/core"
)

// SMTPMailer sends core.PipelineNotice over SMTP via go-mail/mail.
type SMTPMailer struct {
	Dialer *mail.Dialer
	From   string
}

// NewSMTPMailer builds a SMTPMailer from connection settings.
func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{
		Dialer: mail.NewDialer(host, port, user, pass),
		From:   from,
	}
}

// FinishedPipeline implements core.Mailer.
func (m *SMTPMailer) FinishedPipeline(ctx context.Context, p core.PipelineNotice) error {
	if len(p.Recipients) == 0 {
		return nil
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", p.Recipients...)
	msg.SetHeader("Subject", fmt.Sprintf("[pipelinecore] %s %s", p.Name, p.Status))
	msg.SetBody("text/plain", fmt.Sprintf("Pipeline %q (#%d) finished with status %s.", p.Name, p.ID, p.Status))

	return m.Dialer.DialAndSend(msg)
}

// NoopMailer discards every notice; used where SMTP isn't configured.
type NoopMailer struct{}

func (NoopMailer) FinishedPipeline(ctx context.Context, p core.PipelineNotice) error {
	return nil
}
