package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webhookTimeout = 10 * time.Second

// DingTalkWebhookSender 通过钉钉群机器人的 webhook 发送文本消息。
type DingTalkWebhookSender struct {
	webhookURL string
	httpClient *http.Client
}

var _ DingTalkSender = (*DingTalkWebhookSender)(nil)

// NewDingTalkWebhookSender 根据 webhook 地址构造发送器。
func NewDingTalkWebhookSender(webhookURL string) (*DingTalkWebhookSender, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("未提供钉钉 webhook 地址")
	}
	return &DingTalkWebhookSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}, nil
}

// Send 发送一条文本消息。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
	if err != nil {
		return fmt.Errorf("序列化钉钉消息失败: %w", err)
	}
	return s.post(ctx, s.webhookURL, payload)
}

func (s *DingTalkWebhookSender) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("告警渠道返回状态码 %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SlackWebhookSender 通过 Slack incoming webhook 发送消息。
// channel 参数仅作为消息附带信息，路由由 webhook 本身决定。
type SlackWebhookSender struct {
	webhookURL string
	httpClient *http.Client
}

var _ SlackSender = (*SlackWebhookSender)(nil)

// NewSlackWebhookSender 根据 webhook 地址构造发送器。
func NewSlackWebhookSender(webhookURL string) (*SlackWebhookSender, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("未提供 Slack webhook 地址")
	}
	return &SlackWebhookSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}, nil
}

// Send 发送一条消息。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	body := map[string]any{"text": content}
	if channel != "" {
		body["channel"] = channel
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化 Slack 消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("告警渠道返回状态码 %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
