package knowledge

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

	"github.com/pkg/errors"

	"swappilot/internal/swap"
)

const (
	defaultPineconeNamespace    = "__default__"
	defaultPineconeAPIVersion   = "2025-04"
	defaultPineconeTimeout      = 10 * time.Second
	defaultPineconeControlPlane = "https://api.pinecone.io"
)

// PineconeConfig 描述 Pinecone 集成向量索引的连接信息。
//
// Host 为空时通过控制面按 IndexName 查询索引地址。
type PineconeConfig struct {
	APIKey       string
	IndexName    string
	Host         string
	ControlPlane string
	Namespace    string
	APIVersion   string
	Timeout      time.Duration
}

// PineconeIndex 通过 records search 接口检索自带 embedding 的索引。
type PineconeIndex struct {
	apiKey     string
	host       string
	namespace  string
	apiVersion string
	httpClient *http.Client
}

// NewPineconeIndex 创建 Pinecone 检索客户端。
func NewPineconeIndex(ctx context.Context, cfg PineconeConfig) (*PineconeIndex, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("未提供 Pinecone API Key")
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = defaultPineconeNamespace
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultPineconeAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPineconeTimeout
	}
	index := &PineconeIndex{
		apiKey:     apiKey,
		namespace:  namespace,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: timeout},
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		name := strings.TrimSpace(cfg.IndexName)
		if name == "" {
			return nil, fmt.Errorf("未提供 Pinecone 索引地址或索引名称")
		}
		controlPlane := strings.TrimRight(strings.TrimSpace(cfg.ControlPlane), "/")
		if controlPlane == "" {
			controlPlane = defaultPineconeControlPlane
		}
		resolved, err := index.describeHost(ctx, controlPlane, name)
		if err != nil {
			return nil, err
		}
		host = resolved
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	index.host = host
	return index, nil
}

// describeHost 调用控制面 describe_index 接口获取数据面地址。
func (p *PineconeIndex) describeHost(ctx context.Context, controlPlane, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/indexes/%s", controlPlane, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "构建 Pinecone 索引查询请求失败")
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "查询 Pinecone 索引失败")
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var described struct {
		Name string `json:"name"`
		Host string `json:"host"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&described); err != nil {
		return "", errors.Wrap(err, "解析 Pinecone 索引信息失败")
	}
	if strings.TrimSpace(described.Host) == "" {
		return "", errors.Errorf("Pinecone 索引 %s 未返回地址", name)
	}
	return strings.TrimSpace(described.Host), nil
}

func (p *PineconeIndex) setHeaders(req *http.Request) {
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("X-Pinecone-API-Version", p.apiVersion)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return errors.Errorf("Pinecone 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

type pineconeSearchRequest struct {
	Query struct {
		Inputs struct {
			Text string `json:"text"`
		} `json:"inputs"`
		TopK int `json:"top_k"`
	} `json:"query"`
	Fields []string `json:"fields,omitempty"`
}

type pineconeSearchResponse struct {
	Result struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Fields map[string]any `json:"fields"`
		} `json:"hits"`
	} `json:"result"`
}

var pineconeFields = []string{"description", "dex", "path", "swapRate", "txHash", "text"}

// Search 调用 Pinecone 检索与文本语义相关的记录。
func (p *PineconeIndex) Search(ctx context.Context, text string, k int) ([]swap.ContextSnippet, error) {
	var payload pineconeSearchRequest
	payload.Query.Inputs.Text = text
	payload.Query.TopK = k
	payload.Fields = pineconeFields

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "序列化 Pinecone 请求失败")
	}

	endpoint := fmt.Sprintf("%s/records/namespaces/%s/search", p.host, url.PathEscape(p.namespace))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "构建 Pinecone 请求失败")
	}
	p.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "请求 Pinecone 失败")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var decoded pineconeSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "解析 Pinecone 响应失败")
	}

	out := make([]swap.ContextSnippet, 0, len(decoded.Result.Hits))
	for _, hit := range decoded.Result.Hits {
		out = append(out, swap.ContextSnippet{
			Text:   describeHit(hit.Fields),
			Score:  hit.Score,
			Source: hit.ID,
		})
	}
	return out, nil
}

// describeHit 将历史换币记录的字段拼接为一段可读文本。
func describeHit(fields map[string]any) string {
	if text := stringField(fields, "text"); text != "" {
		return text
	}
	parts := make([]string, 0, 5)
	if v := stringField(fields, "description"); v != "" {
		parts = append(parts, v)
	}
	if v := stringField(fields, "dex"); v != "" {
		parts = append(parts, "dex="+v)
	}
	if v := stringField(fields, "path"); v != "" {
		parts = append(parts, "path="+v)
	}
	if v := stringField(fields, "swapRate"); v != "" {
		parts = append(parts, "rate="+v)
	}
	if v := stringField(fields, "txHash"); v != "" {
		parts = append(parts, "tx="+v)
	}
	return strings.Join(parts, " | ")
}

func stringField(fields map[string]any, key string) string {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		return strings.Join(items, " -> ")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Upsert 通过 records 接口写入记录，由索引自带的 embedding 模型向量化 text 字段。
func (p *PineconeIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, record := range records {
		if strings.TrimSpace(record.ID) == "" {
			return errors.New("Pinecone 记录缺少 ID")
		}
		line := make(map[string]any, len(record.Fields)+2)
		for key, value := range record.Fields {
			line[key] = value
		}
		line["_id"] = record.ID
		line["text"] = record.Text
		if err := enc.Encode(line); err != nil {
			return errors.Wrap(err, "序列化 Pinecone 记录失败")
		}
	}

	endpoint := fmt.Sprintf("%s/records/namespaces/%s/upsert", p.host, url.PathEscape(p.namespace))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return errors.Wrap(err, "构建 Pinecone 写入请求失败")
	}
	p.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "写入 Pinecone 失败")
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

var (
	_ Searcher = (*PineconeIndex)(nil)
	_ Writer   = (*PineconeIndex)(nil)
)
