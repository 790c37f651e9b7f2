package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"swappilot/internal/swap"
)

// Entry 描述本地知识库中的一条记录。
type Entry struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供关键词检索能力。
type StaticProvider struct {
	items []Entry
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Entry) *StaticProvider {
	return &StaticProvider{items: items}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Entry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries), nil
}

// Search 按关键词与标签命中数打分，分数归一化到 [0, 1]。
func (p *StaticProvider) Search(ctx context.Context, text string, k int) ([]swap.ContextSnippet, error) {
	if p == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(text))
	results := make([]swap.ContextSnippet, 0, len(p.items))
	for _, item := range p.items {
		score := score(item, query)
		if score <= 0 {
			continue
		}
		source := item.ID
		if source == "" {
			source = item.Title
		}
		body := strings.TrimSpace(item.Content)
		if title := strings.TrimSpace(item.Title); title != "" {
			body = title + ": " + body
		}
		results = append(results, swap.ContextSnippet{Text: body, Score: score, Source: source})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func score(entry Entry, query string) float64 {
	terms := make([]string, 0, len(entry.Keywords)+len(entry.Tags))
	terms = append(terms, entry.Keywords...)
	terms = append(terms, entry.Tags...)

	total, hits := 0, 0
	for _, term := range terms {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized == "" {
			continue
		}
		total++
		if strings.Contains(query, normalized) {
			hits++
		}
	}
	if total == 0 || hits == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

var _ Searcher = (*StaticProvider)(nil)
