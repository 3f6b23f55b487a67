package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// WebhookNotificationHandler POSTs the task payload as JSON to the URL named
// in metadata ("url"). Optional metadata:
//   - headers: object of extra request headers
//   - successCodes: list of accepted status codes (default: any 2xx)
type WebhookNotificationHandler struct {
	hc  *http.Client
	log logx.Logger
}

func NewWebhookNotificationHandler(timeout time.Duration, log logx.Logger) *WebhookNotificationHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebhookNotificationHandler{
		hc:  &http.Client{Timeout: timeout},
		log: log.With(logx.String("handler", "webhook_notification")),
	}
}

func (h *WebhookNotificationHandler) TaskType() task.Type { return task.TypeWebhookNotification }

func (h *WebhookNotificationHandler) Validate(t *task.Task) error {
	if err := ValidateReference(t); err != nil {
		return err
	}
	raw := strings.TrimSpace(t.MetadataString("url"))
	if raw == "" {
		return Validationf("webhook task requires metadata url")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Validationf("webhook url %q is not a valid http(s) URL", raw)
	}
	return nil
}

func (h *WebhookNotificationHandler) Execute(ctx context.Context, t *task.Task) task.Result {
	target := strings.TrimSpace(t.MetadataString("url"))

	body, err := json.Marshal(t.Payload)
	if err != nil {
		return task.PermanentFailure("webhook payload not serializable: "+err.Error(), "VALIDATION_ERROR")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return task.PermanentFailure("webhook request invalid: "+err.Error(), "VALIDATION_ERROR")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-Id", t.ID.String())
	req.Header.Set("X-Task-Reference", t.ReferenceID)
	if hdrs, ok := t.Metadata["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	h.log.Info("delivering webhook", logx.String("reference", t.ReferenceID), logx.String("url", target))

	resp, err := h.hc.Do(req)
	if err != nil {
		return task.FailErr(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	if h.accepted(t, resp.StatusCode) {
		return task.Succeed(task.Document{
			"statusCode": resp.StatusCode,
			"response":   string(respBody),
		})
	}
	return task.HTTPFailure(resp.StatusCode, fmt.Sprintf("webhook delivery to %s failed", target))
}

func (h *WebhookNotificationHandler) accepted(t *task.Task, code int) bool {
	if list, ok := t.Metadata["successCodes"].([]any); ok && len(list) > 0 {
		for _, v := range list {
			if f, ok := v.(float64); ok && int(f) == code {
				return true
			}
		}
		return false
	}
	return code >= 200 && code <= 299
}

func (h *WebhookNotificationHandler) NextRetryDelay(t *task.Task, defaultDelayHours int) time.Duration {
	return DefaultRetryDelay(t, defaultDelayHours)
}
