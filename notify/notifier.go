// Package notify delivers participant-facing notifications as a side effect
// of result transitions. Delivery failures never block a state transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Template string

const (
	TemplateResultSubmitted Template = "result_submitted"
	TemplateResultConfirmed Template = "result_confirmed"
	TemplateResultDisputed  Template = "result_disputed"
	TemplateMatchFinalized  Template = "match_finalized"
	TemplateRematchOrdered  Template = "rematch_ordered"
)

type Notifier interface {
	Notify(ctx context.Context, recipientID int, template Template, data map[string]interface{}) error
}

// AddressResolver maps a participant id to a deliverable email address.
// Lives with the identity collaborator, not the engine.
type AddressResolver func(ctx context.Context, participantID int) (email, name string, err error)

// SendGridNotifier renders a minimal template and delivers via SendGrid.
type SendGridNotifier struct {
	apiKey    string
	fromEmail string
	fromName  string
	resolve   AddressResolver
	logger    *slog.Logger
}

func NewSendGridNotifier(apiKey, fromEmail, fromName string, resolve AddressResolver, logger *slog.Logger) *SendGridNotifier {
	return &SendGridNotifier{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		resolve:   resolve,
		logger:    logger,
	}
}

var subjects = map[Template]string{
	TemplateResultSubmitted: "A result was reported for your match",
	TemplateResultConfirmed: "Your match result was confirmed",
	TemplateResultDisputed:  "A match result you reported is disputed",
	TemplateMatchFinalized:  "Your match result is final",
	TemplateRematchOrdered:  "A rematch has been ordered",
}

func (n *SendGridNotifier) Notify(ctx context.Context, recipientID int, template Template, data map[string]interface{}) error {
	email, name, err := n.resolve(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve address for participant %d: %w", recipientID, err)
	}

	subject, ok := subjects[template]
	if !ok {
		subject = string(template)
	}
	body := subject
	if matchID, ok := data["match_id"]; ok {
		body = fmt.Sprintf("%s (match %v)", subject, matchID)
	}

	from := mail.NewEmail(n.fromName, n.fromEmail)
	to := mail.NewEmail(name, email)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(n.apiKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d - %s", response.StatusCode, response.Body)
	}

	n.logger.Debug("notification delivered",
		slog.Int("recipient", recipientID),
		slog.String("template", string(template)))
	return nil
}

// LogNotifier only logs; the default when no SendGrid key is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, recipientID int, template Template, data map[string]interface{}) error {
	n.Logger.Info("notification",
		slog.Int("recipient", recipientID),
		slog.String("template", string(template)),
		slog.Any("data", data))
	return nil
}
