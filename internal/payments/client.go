package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"blocmark/server/internal/config"
)

// PaymentFailedError is returned when the processor declines or errors a
// capture. The booking stays payment_pending so the renter can retry.
type PaymentFailedError struct {
	BookingID string
	Reason    string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment for booking %s failed: %s", e.BookingID, e.Reason)
}

// CheckoutParams describes a checkout session request. Amounts are minor
// units.
type CheckoutParams struct {
	BookingID   string
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
}

// Session is a created checkout session the client is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ICheckoutClient is the interface the booking core uses to talk to the
// payment processor.
type ICheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error)
	CapturePayment(ctx context.Context, bookingID, paymentMethodID string) error
}

type checkoutClient struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewCheckoutClient creates a checkout client against the configured
// payment API.
func NewCheckoutClient(cfg *config.Config) ICheckoutClient {
	return &checkoutClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type checkoutSessionRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata"`
}

type captureRequest struct {
	PaymentMethodID string            `json:"payment_method_id"`
	Metadata        map[string]string `json:"metadata"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CreateCheckoutSession opens a hosted checkout session for a
// payment_pending booking.
func (c *checkoutClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error) {
	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("checkout amount must be positive, got %d", params.AmountCents)
	}
	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}

	body := checkoutSessionRequest{
		Amount:      params.AmountCents,
		Currency:    currency,
		Description: params.Description,
		SuccessURL:  c.cfg.CheckoutSuccessURL,
		CancelURL:   c.cfg.CheckoutCancelURL,
		Metadata: map[string]string{
			"booking_id":  params.BookingID,
			"customer_id": params.CustomerID,
		},
	}

	var session Session
	if err := c.post(ctx, "/checkout/sessions", body, &session); err != nil {
		return nil, fmt.Errorf("failed to create checkout session for booking %s: %w", params.BookingID, err)
	}
	return &session, nil
}

// CapturePayment charges a stored payment method immediately. A decline
// comes back as *PaymentFailedError.
func (c *checkoutClient) CapturePayment(ctx context.Context, bookingID, paymentMethodID string) error {
	body := captureRequest{
		PaymentMethodID: paymentMethodID,
		Metadata:        map[string]string{"booking_id": bookingID},
	}

	err := c.post(ctx, "/payments/capture", body, nil)
	if err != nil {
		var apiErr *requestError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPaymentRequired {
			return &PaymentFailedError{BookingID: bookingID, Reason: apiErr.Message}
		}
		return fmt.Errorf("capture for booking %s: %w", bookingID, err)
	}
	return nil
}

// requestError carries the processor's status code and message for callers
// that branch on declines.
type requestError struct {
	StatusCode int
	Message    string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("payment api returned %d: %s", e.StatusCode, e.Message)
}

func (c *checkoutClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PaymentAPIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.PaymentAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment api request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return fmt.Errorf("failed to read payment api response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(respBody, &e) == nil && e.Message != "" {
			return &requestError{StatusCode: resp.StatusCode, Message: e.Message}
		}
		return &requestError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode payment api response: %w", err)
		}
	}
	return nil
}

// VerifyWebhookSignature checks an HMAC-SHA256 hex signature over the raw
// webhook body. Comparison is constant-time.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookEvent is the processor's payment-result callback payload.
type WebhookEvent struct {
	Type      string `json:"type"` // "payment.succeeded" or "payment.failed"
	BookingID string `json:"booking_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
