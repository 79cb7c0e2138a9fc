package delivery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridEmail delivers messages through the SendGrid v3 API.
type SendGridEmail struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
}

// NewSendGridEmail builds a SendGrid channel. An empty host uses the public API.
func NewSendGridEmail(key, fromName, fromAddress, host string) *SendGridEmail {
	if host == "" {
		host = sendgridHost
	}
	return &SendGridEmail{
		key:        key,
		host:       host,
		from:       sgmail.NewEmail(fromName, fromAddress),
		subjPrefix: "[" + fromName + "] ",
	}
}

func (s *SendGridEmail) Name() string { return ChannelEmail }

// Send posts a single plain text message.
func (s *SendGridEmail) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.Email == "" {
		return ErrNoAddress
	}
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(to.Name, to.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid responded %d", res.StatusCode)
	}
	return nil
}
