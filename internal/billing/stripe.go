// Package billing provides Stripe billing integration for quota pack purchases.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Service defines the interface for billing operations.
type Service interface {
	// CreateCheckoutSession creates a Stripe Checkout session for a one-time
	// quota pack purchase. Returns the checkout URL to redirect the buyer to.
	CreateCheckoutSession(tenantID, priceID, successURL, cancelURL string) (string, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// PackForPriceID returns the number of bonus scans a given Stripe price ID
	// grants, or 0 if the price ID is unknown.
	PackForPriceID(priceID string) int
}

// PriceConfig holds the Stripe price IDs for each quota pack.
type PriceConfig struct {
	Pack100PriceID  string
	Pack500PriceID  string
	Pack1000PriceID string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	prices        PriceConfig
	priceToPack   map[string]int // maps price ID -> bonus scan amount
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
// The prices configure which Stripe price IDs map to which quota packs.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToPack := make(map[string]int)
	if prices.Pack100PriceID != "" {
		priceToPack[prices.Pack100PriceID] = 100
	}
	if prices.Pack500PriceID != "" {
		priceToPack[prices.Pack500PriceID] = 500
	}
	if prices.Pack1000PriceID != "" {
		priceToPack[prices.Pack1000PriceID] = 1000
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		prices:        prices,
		priceToPack:   priceToPack,
	}
}

func (s *stripeService) CreateCheckoutSession(tenantID, priceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(tenantID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata("tenant_id", tenantID)
	params.AddMetadata("price_id", priceID)
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) PackForPriceID(priceID string) int {
	return s.priceToPack[priceID]
}
