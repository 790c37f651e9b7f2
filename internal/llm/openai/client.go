package openai

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"swappilot/internal/llm"
)

const defaultTimeout = 60 * time.Second

// preset 记录各兼容服务商的默认端点、模型与温度。
type preset struct {
	baseURL     string
	model       string
	temperature float64
}

var presets = map[string]preset{
	"openai": {baseURL: "https://api.openai.com/v1", model: "gpt-4o-mini", temperature: 0.2},
	"groq":   {baseURL: "https://api.groq.com/openai/v1", model: "llama-3.3-70b-versatile", temperature: 0.5},
}

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息。
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// StatusError 表示服务端返回了非成功状态码。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("模型服务返回错误状态 %d: %s", e.StatusCode, e.Message)
}

// Temporary 报告该状态是否值得稍后重试（限流或服务端错误）。
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client 通过 HTTP 调用 OpenAI 兼容的大模型服务（OpenAI、Groq）。
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient 根据配置创建客户端，未知的 Provider 按 openai 处理。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供模型服务 API Key")
	}
	p, ok := presets[strings.ToLower(strings.TrimSpace(cfg.Provider))]
	if !ok {
		p = presets["openai"]
	}
	if cfg.Temperature > 0 {
		p.temperature = cfg.Temperature
	}
	base := cmp.Or(strings.TrimSpace(cfg.BaseURL), p.baseURL)
	return &Client{
		endpoint:    strings.TrimRight(base, "/") + "/chat/completions",
		apiKey:      apiKey,
		model:       cmp.Or(strings.TrimSpace(cfg.Model), p.model),
		temperature: p.temperature,
		httpClient:  &http.Client{Timeout: cmp.Or(cfg.Timeout, defaultTimeout)},
	}, nil
}

// Complete 调用 chat/completions 并返回第一条回复的原始文本。
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	body, err := json.Marshal(c.request(prompt))
	if err != nil {
		return "", errors.Wrap(err, "序列化模型请求失败")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "构建模型请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "请求模型服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", statusError(resp)
	}
	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(err, "解析模型响应失败")
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("模型响应中没有有效的 choices")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

func (c *Client) request(prompt llm.Prompt) chatRequest {
	req := chatRequest{Model: c.model, Temperature: c.temperature}
	if system := strings.TrimSpace(prompt.System); system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt.User})
	return req
}

// statusError 优先使用 {"error":{"message":...}} 中的描述。
func statusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope errorEnvelope
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

var _ llm.Client = (*Client)(nil)
