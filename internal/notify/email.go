package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"badgerline/internal/domain"
)

// Sender is the part of the SendGrid client the email dispatcher uses.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Directory resolves a recipient id to a user profile.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// Email sends notifications through SendGrid to the recipient's address.
type Email struct {
	Client    Sender
	Users     Directory
	FromName  string
	FromEmail string
}

func NewEmail(apiKey, fromName, fromEmail string, users Directory) *Email {
	return &Email{
		Client:    sendgrid.NewSendClient(apiKey),
		Users:     users,
		FromName:  fromName,
		FromEmail: fromEmail,
	}
}

func (e *Email) Dispatch(ctx context.Context, req domain.NotificationRequest) error {
	u, err := e.Users.GetUser(ctx, req.RecipientID)
	if err != nil {
		return fmt.Errorf("email: lookup %s: %w", req.RecipientID, err)
	}
	if u.Email == "" {
		return nil
	}
	from := mail.NewEmail(e.FromName, e.FromEmail)
	to := mail.NewEmail(u.Name, u.Email)
	text := message(req)
	body := fmt.Sprintf("<p>%s</p>", html.EscapeString(text))
	msg := mail.NewSingleEmail(from, subject(req), to, text, body)
	response, err := e.Client.Send(msg)
	if err != nil {
		return unavailable("email", fmt.Errorf("send via SendGrid: %w", err))
	}
	if response.StatusCode >= 400 {
		return unavailable("email", fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body))
	}
	return nil
}
