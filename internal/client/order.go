package client

import (
	"context"
	"fmt"
	"net/url"

	logx "taskd/pkg/logx"
)

// OrderClient calls the order service.
type OrderClient struct {
	httpClient
}

func NewOrderClient(cfg Config, log logx.Logger) *OrderClient {
	return &OrderClient{newHTTPClient("order-service", cfg, log)}
}

type OrderCancelRequest struct {
	OrderID     string         `json:"orderId"`
	Reason      string         `json:"reason"`
	CancelledBy string         `json:"cancelledBy"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type OrderCancelResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	CancelledAt string `json:"cancelledAt,omitempty"`
}

func (c *OrderClient) CancelOrder(ctx context.Context, req OrderCancelRequest) (*OrderCancelResponse, error) {
	c.log.Debug("cancelling order", logx.String("order_id", req.OrderID))
	var resp OrderCancelResponse
	path := fmt.Sprintf("/api/v1/orders/%s/cancel", url.PathEscape(req.OrderID))
	if err := c.postJSON(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OrderStatus fetches the current order state.
func (c *OrderClient) OrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/api/v1/orders/%s/status", url.PathEscape(orderID))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}
