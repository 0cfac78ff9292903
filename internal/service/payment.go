package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/logger"
	"tradehub-backend/internal/pricing"
)

// stripeGateway charges saved payment methods off-session through Stripe
// PaymentIntents. The caller's idempotency key is forwarded to Stripe so a
// retried request cannot produce a second charge.
type stripeGateway struct{}

func NewStripeGateway(secretKey string) PaymentGateway {
	stripe.Key = secretKey
	return &stripeGateway{}
}

func (g *stripeGateway) Charge(ctx context.Context, accountID string, pkg pricing.Package, idempotencyKey string) (*ChargeResult, error) {
	logger.PaymentCall("payment_intent.create", "account_id", accountID, "package", string(pkg.Type))

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(pkg.PriceCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Customer: stripe.String(stripeCustomerID(accountID)),
		Confirm:  stripe.Bool(true),
		// Off-session: auto-topup runs without the user present.
		OffSession: stripe.Bool(true),
		Metadata: map[string]string{
			"account_id":   accountID,
			"package_type": string(pkg.Type),
			"credits":      strconv.FormatInt(pkg.Credits, 10),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := paymentintent.New(params)
	logger.PaymentResult("payment_intent.create", err, "account_id", accountID)
	if err != nil {
		return nil, &domain.ExternalChargeError{ReasonCode: stripeDeclineCode(err), Err: err}
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, &domain.ExternalChargeError{ReasonCode: string(pi.Status)}
	}

	return &ChargeResult{ExternalReference: pi.ID, AmountCents: pi.Amount}, nil
}

// stripeCustomerID maps our account id to the Stripe customer. Accounts are
// created with a mirrored customer whose id embeds the account id.
func stripeCustomerID(accountID string) string {
	return "cus_" + accountID
}

func stripeDeclineCode(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.DeclineCode != "" {
			return string(stripeErr.DeclineCode)
		}
		return string(stripeErr.Code)
	}
	return "gateway_error"
}
