package api

import (
	"context"
	"net/http"
)

type PreferenceRequest struct {
	PlanID     string `json:"planId"`
	PayerEmail string `json:"payerEmail,omitempty"`
	CouponCode string `json:"couponCode,omitempty"`
}

// Preference is a hosted-checkout preference created by the backend.
type Preference struct {
	PreferenceID string `json:"preferenceId"`
	InitPoint    string `json:"initPoint"`
}

func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	var pref Preference
	if err := c.doJSON(ctx, http.MethodPost, "/api/payments/preference", nil, req, &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

type PixRequest struct {
	PlanID     string  `json:"planId"`
	PayerEmail string  `json:"payerEmail"`
	PayerName  string  `json:"payerName,omitempty"`
	PayerCPF   string  `json:"payerCpf,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
}

// PixPayment is a pending PIX charge. Its final status arrives on the payment
// channel keyed by PaymentID.
type PixPayment struct {
	PaymentID    string `json:"paymentId"`
	QRCode       string `json:"qrCode"`
	QRCodeBase64 string `json:"qrCodeBase64"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

func (c *Client) CreatePixPayment(ctx context.Context, req PixRequest) (*PixPayment, error) {
	var pix PixPayment
	if err := c.doJSON(ctx, http.MethodPost, "/api/payments/pix", nil, req, &pix); err != nil {
		return nil, err
	}
	return &pix, nil
}

type RefundRequest struct {
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason,omitempty"`
}

type Refund struct {
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
}

// RequestRefund submits a refund. The outcome is reported asynchronously on
// the refund channel.
func (c *Client) RequestRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	var refund Refund
	if err := c.doJSON(ctx, http.MethodPost, "/api/refunds", nil, req, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}
