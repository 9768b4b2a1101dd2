package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"library-service/internal/core/model"
)

// StripeCheckout creates hosted Stripe Checkout sessions. It holds its own
// client so no package-level stripe.Key is needed.
type StripeCheckout struct {
	api *client.API
}

// NewStripeCheckout builds a client for secretKey. An empty baseURL keeps
// Stripe's production endpoint; tests point it at an httptest server.
func NewStripeCheckout(secretKey, baseURL string, httpClient *http.Client) *StripeCheckout {
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(secretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return &StripeCheckout{api: api}
}

func (c *StripeCheckout) CreateSession(ctx context.Context, req model.CheckoutRequest) (model.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.PaymentID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("payment_id", req.PaymentID)

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return model.CheckoutSession{}, classifyStripeErr(err)
	}
	return model.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (c *StripeCheckout) RetrieveSession(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return model.SessionStatus{}, classifyStripeErr(err)
	}
	return model.SessionStatus{ID: s.ID, PaymentStatus: string(s.PaymentStatus), Status: string(s.Status)}, nil
}

func (c *StripeCheckout) ExpireSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := c.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return classifyStripeErr(err)
	}
	return nil
}

// classifyStripeErr separates answers from Stripe (rejections) from transport
// failures; both end up as model.ErrCheckoutFailed.
func classifyStripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &model.CheckoutError{Rejected: true, Err: err}
	}
	return &model.CheckoutError{Err: err}
}
