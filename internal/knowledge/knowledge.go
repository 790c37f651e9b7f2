package knowledge

import (
	"context"
	"iter"
	"sort"
	"strings"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

// DefaultTopK 是未配置时返回的片段数量。
const DefaultTopK = 5

// Searcher 定义向量索引或本地知识库的检索接口。
type Searcher interface {
	Search(ctx context.Context, text string, k int) ([]swap.ContextSnippet, error)
}

// Retriever 将检索结果整理为按相关度降序、截断到 top-K 的片段流。
type Retriever struct {
	searcher Searcher
	topK     int
}

// NewRetriever 创建检索器。
func NewRetriever(searcher Searcher, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{searcher: searcher, topK: topK}
}

// TopK 返回截断数量。
func (r *Retriever) TopK() int {
	if r == nil {
		return 0
	}
	return r.topK
}

// Retrieve 检索与请求文本相关的片段。
func (r *Retriever) Retrieve(ctx context.Context, text string) (*Snippets, error) {
	if r == nil || r.searcher == nil {
		return nil, xerrors.New(swap.CodeRetrievalUnavailable, "未配置知识检索后端")
	}
	if strings.TrimSpace(text) == "" {
		return Empty(), nil
	}

	hits, err := r.searcher.Search(ctx, text, r.topK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if xerrors.HasCode(err, swap.CodeRetrievalUnavailable) {
			return nil, err
		}
		return nil, xerrors.Wrap(swap.CodeRetrievalUnavailable, err, "知识检索失败")
	}

	ranked := make([]swap.ContextSnippet, 0, len(hits))
	for _, hit := range hits {
		if strings.TrimSpace(hit.Text) == "" {
			continue
		}
		ranked = append(ranked, hit)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}
	return newSnippets(ranked), nil
}

// Snippets 是只能消费一次的片段序列。
type Snippets struct {
	items []swap.ContextSnippet
	pos   int
}

func newSnippets(items []swap.ContextSnippet) *Snippets {
	return &Snippets{items: items}
}

// Empty 返回一个空序列，用于降级模式。
func Empty() *Snippets {
	return newSnippets(nil)
}

// Next 返回下一个片段，序列耗尽后返回 false。
func (s *Snippets) Next() (swap.ContextSnippet, bool) {
	if s == nil || s.pos >= len(s.items) {
		return swap.ContextSnippet{}, false
	}
	item := s.items[s.pos]
	s.pos++
	return item, true
}

// All 以迭代器形式消费剩余片段。
func (s *Snippets) All() iter.Seq[swap.ContextSnippet] {
	return func(yield func(swap.ContextSnippet) bool) {
		for {
			item, ok := s.Next()
			if !ok || !yield(item) {
				return
			}
		}
	}
}

// Collect 消费剩余片段并返回切片。
func (s *Snippets) Collect() []swap.ContextSnippet {
	var out []swap.ContextSnippet
	for item := range s.All() {
		out = append(out, item)
	}
	return out
}
