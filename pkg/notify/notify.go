// Package notify delivers run results to a DingTalk group robot webhook.
// Requests are signed with the robot's secret per the platform's
// timestamp+HMAC-SHA256 scheme.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"outreach/pkg/config"
	"outreach/pkg/outreach"
)

// Notifier posts markdown messages to a group robot webhook. A disabled
// notifier accepts every call and does nothing.
type Notifier struct {
	cfg    config.NotificationConfig
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a notifier from the webhook configuration.
func New(cfg config.NotificationConfig, logger zerolog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.With().Str("component", "notify").Logger(),
		now:    time.Now,
	}
}

// NotifyRun sends a summary of a finished run.
func (n *Notifier) NotifyRun(ctx context.Context, s outreach.Summary) error {
	if !n.cfg.Enabled || n.cfg.Webhook == "" {
		return nil
	}
	title, text := renderSummary(s)
	return n.Send(ctx, title, text)
}

// Send posts a markdown message.
func (n *Notifier) Send(ctx context.Context, title, text string) error {
	endpoint, err := SignedURL(n.cfg.Webhook, n.cfg.Secret, n.now())
	if err != nil {
		return err
	}

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  text,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode webhook response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("webhook rejected message: %d %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// SignedURL appends the timestamp and HMAC-SHA256 signature the robot
// expects. The string to sign is "<millis>\n<secret>"; the digest is
// base64-encoded and URL-escaped. An empty secret returns the webhook
// unchanged for robots configured without signing.
func SignedURL(webhook, secret string, at time.Time) (string, error) {
	if secret == "" {
		return webhook, nil
	}
	u, err := url.Parse(webhook)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}

	ts := at.UnixMilli()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d\n%s", ts, secret)
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	q := u.Query()
	q.Set("timestamp", fmt.Sprintf("%d", ts))
	q.Set("sign", sign)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func renderSummary(s outreach.Summary) (string, string) {
	var title string
	switch s.Status {
	case outreach.StatusCompleted:
		title = "打招呼任务完成"
	case outreach.StatusLimitReached:
		title = "打招呼任务已达平台上限"
	case outreach.StatusCancelled:
		title = "打招呼任务已取消"
	default:
		title = "打招呼任务异常"
	}

	text := fmt.Sprintf(
		"### %s\n\n- 状态: %s\n- 成功: %d / %d\n- 跳过: %d\n- 失败: %d\n- 处理: %d\n- 用时: %s\n",
		title, s.Status,
		s.Counters.Success, s.TargetCount,
		s.Counters.Skipped, s.Counters.Failed, s.Counters.Attempted,
		s.Elapsed.Round(time.Second),
	)
	if s.ErrorMessage != "" {
		text += fmt.Sprintf("- 备注: %s\n", s.ErrorMessage)
	}
	return title, text
}
