package service

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/logger"
)

// AccountContactLookup resolves an account id to a notification address.
// Identity lives with the external identity provider; the ledger only needs
// somewhere to send alerts.
type AccountContactLookup func(ctx context.Context, accountID string) (email, name string, err error)

// sendgridPublisher delivers balance and policy alerts by email. Publishing
// is fire-and-forget: failures are logged, never returned to the ledger path.
type sendgridPublisher struct {
	apiKey    string
	fromEmail string
	fromName  string
	lookup    AccountContactLookup
}

func NewSendGridPublisher(apiKey, fromEmail, fromName string, lookup AccountContactLookup) NotificationPublisher {
	if lookup == nil {
		lookup = func(ctx context.Context, accountID string) (string, string, error) {
			return accountID + "@accounts.tradehub.example", "there", nil
		}
	}
	return &sendgridPublisher{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		lookup:    lookup,
	}
}

func (p *sendgridPublisher) Publish(ctx context.Context, event domain.Event) {
	email, name, err := p.lookup(ctx, event.AccountID)
	if err != nil {
		logger.Warn("No contact for account, dropping notification", "account_id", event.AccountID, "event", event.Type)
		return
	}

	subject, body, ok := renderEvent(event, name)
	if !ok {
		return
	}

	from := mail.NewEmail(p.fromName, p.fromEmail)
	to := mail.NewEmail(name, email)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	client := sendgrid.NewSendClient(p.apiKey)
	resp, err := client.Send(message)
	if err != nil {
		logger.Warn("Failed to send notification", "account_id", event.AccountID, "event", event.Type, "error", err)
		return
	}
	if resp.StatusCode >= 400 {
		logger.Warn("Notification rejected by sendgrid", "account_id", event.AccountID, "event", event.Type, "status", resp.StatusCode)
	}
}

func renderEvent(event domain.Event, name string) (subject, body string, ok bool) {
	switch event.Type {
	case domain.EventLowBalance:
		return "Your credit balance is running low",
			fmt.Sprintf("Hello %s,\n\nYour credit balance is down to %d credits. Top up now to keep applying for jobs without interruption.\n\nThe TradeHub Team", name, event.Balance),
			true
	case domain.EventCriticalBalance:
		return "Your credit balance is almost empty",
			fmt.Sprintf("Hello %s,\n\nYour credit balance is down to %d credits. Most actions will be unavailable once it reaches zero.\n\nThe TradeHub Team", name, event.Balance),
			true
	case domain.EventTopupSuspended:
		return "Automatic top-up suspended",
			fmt.Sprintf("Hello %s,\n\nAutomatic top-up for your account was suspended after repeated payment failures. Please review your payment method and re-enable it in your account settings.\n\nThe TradeHub Team", name),
			true
	default:
		// Transaction-completed events are metrics fodder, not email.
		return "", "", false
	}
}

// logPublisher writes events to the log only. Used in development and as the
// fallback when no notification channel is configured.
type logPublisher struct{}

func NewLogPublisher() NotificationPublisher {
	return &logPublisher{}
}

func (p *logPublisher) Publish(ctx context.Context, event domain.Event) {
	logger.InfoContext(ctx, "Ledger event",
		"event", event.Type, "account_id", event.AccountID,
		"transaction_id", event.TransactionID, "balance", event.Balance)
}
