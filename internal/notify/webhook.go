package notify

import (
	"context"
	"fmt"
	"time"

	"kittypau/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 把 fleet 级故障事件推送到外部 webhook。
// 推送是 best-effort，失败由调用方记录日志，不重入队。
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookNotifier 创建 webhook 推送器
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{
		client: client,
		url:    url,
		logger: logger,
	}
}

// NotifyOutage POST 一条故障事件到配置的 URL
func (n *WebhookNotifier) NotifyOutage(ctx context.Context, ev *domain.AuditEvent) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(ev.ToJSON()).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("outage webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("outage webhook returned %d", resp.StatusCode())
	}

	n.logger.Info("Outage webhook delivered",
		zap.String("event_kind", ev.EventKind),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}
