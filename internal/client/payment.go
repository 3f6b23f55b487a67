package client

import (
	"context"
	"fmt"
	"net/url"

	logx "taskd/pkg/logx"
)

// PaymentClient calls the payment service (refund, partial refund, void).
type PaymentClient struct {
	httpClient
}

func NewPaymentClient(cfg Config, log logx.Logger) *PaymentClient {
	return &PaymentClient{newHTTPClient("payment-service", cfg, log)}
}

type PaymentRefundRequest struct {
	PaymentID     string         `json:"paymentId"`
	TransactionID string         `json:"transactionId,omitempty"`
	Amount        *float64       `json:"amount,omitempty"` // nil = full refund
	Currency      string         `json:"currency"`
	Reason        string         `json:"reason"`
	RequestedBy   string         `json:"requestedBy"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type PaymentRefundResponse struct {
	RefundID    string   `json:"refundId,omitempty"`
	PaymentID   string   `json:"paymentId"`
	Status      string   `json:"status"`
	Amount      *float64 `json:"amount,omitempty"`
	Message     string   `json:"message,omitempty"`
	ProcessedAt string   `json:"processedAt,omitempty"`
}

func (c *PaymentClient) RefundPayment(ctx context.Context, req PaymentRefundRequest) (*PaymentRefundResponse, error) {
	c.log.Debug("refunding payment", logx.String("payment_id", req.PaymentID))
	var resp PaymentRefundResponse
	path := fmt.Sprintf("/api/v1/payments/%s/refund", url.PathEscape(req.PaymentID))
	if err := c.postJSON(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type PaymentVoidRequest struct {
	PaymentID   string         `json:"paymentId"`
	Reason      string         `json:"reason"`
	RequestedBy string         `json:"requestedBy"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type PaymentVoidResponse struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	VoidedAt  string `json:"voidedAt,omitempty"`
}

func (c *PaymentClient) VoidPayment(ctx context.Context, req PaymentVoidRequest) (*PaymentVoidResponse, error) {
	c.log.Debug("voiding payment", logx.String("payment_id", req.PaymentID))
	var resp PaymentVoidResponse
	path := fmt.Sprintf("/api/v1/payments/%s/void", url.PathEscape(req.PaymentID))
	if err := c.postJSON(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
