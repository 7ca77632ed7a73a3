package transport

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/roach88/vigil/internal/domain"
)

// EmailSender delivers payloads over SMTP.
type EmailSender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// NewEmailSender configures an SMTP transport.
func NewEmailSender(host, port, username, password, from string) *EmailSender {
	return &EmailSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
	}
}

const contentTemplate = `
<!DOCTYPE html>
<html>
<body style="font-family: Georgia, serif; line-height: 1.6; color: #222;">
    <div style="max-width: 600px; margin: 0 auto; padding: 24px; border: 1px solid #ccc;">
        <p>Hello {{.Name}},</p>
        <p>{{.Title}}: a message was entrusted to us with instructions to
        deliver it to you if its owner stopped checking in. That condition
        has now been met.</p>
        <pre style="white-space: pre-wrap; background: #f7f7f7; padding: 16px;">{{.Body}}</pre>
        <p style="font-size: 0.8em; color: #777;">Delivered by vigil. This
        message was encrypted until the moment of release.</p>
    </div>
</body>
</html>
`

const noticeTemplate = `
<!DOCTYPE html>
<html>
<body style="font-family: Georgia, serif; line-height: 1.6; color: #222;">
    <div style="max-width: 600px; margin: 0 auto; padding: 24px; border: 1px solid #ccc;">
        <p>Hello {{.Name}},</p>
        <p>A sealed message naming you as a recipient has passed its owner's
        check-in deadline. Its content remains sealed; you are being notified
        as configured by the owner.</p>
        <p style="font-size: 0.8em; color: #777;">Delivered by vigil.</p>
    </div>
</body>
</html>
`

var (
	contentTmpl = template.Must(template.New("content").Parse(contentTemplate))
	noticeTmpl  = template.Must(template.New("notice").Parse(noticeTemplate))
)

// Deliver implements Transport. The context deadline is honored by running
// the blocking smtp call in a goroutine; SendMail has no context support.
func (s *EmailSender) Deliver(ctx context.Context, r *domain.Recipient, p Payload) error {
	tmpl := contentTmpl
	subject := "A message has been released to you"
	if p.Kind == KindNotice {
		tmpl = noticeTmpl
		subject = "A sealed message has passed its deadline"
	}

	name := r.Name
	if name == "" {
		name = r.Contact
	}

	var body bytes.Buffer
	err := tmpl.Execute(&body, map[string]string{
		"Name":  name,
		"Title": p.Title,
		"Body":  string(p.Body),
	})
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n",
		s.From, r.Contact, subject,
	)
	message := []byte(headers + body.String())

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(addr, auth, s.From, []string{r.Contact}, message)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", r.Contact, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", r.Contact, ctx.Err())
	}
}
