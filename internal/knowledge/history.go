package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"swappilot/internal/swap"
)

// Record 是写入索引的一条记录，Text 为参与向量化的正文。
type Record struct {
	ID     string
	Text   string
	Fields map[string]any
}

// Writer 定义可写入的索引。
type Writer interface {
	Upsert(ctx context.Context, records []Record) error
}

// HistoryRecorder 把已确认的换币结果写回索引，供后续请求检索。
type HistoryRecorder struct {
	writer Writer
}

// NewHistoryRecorder 创建换币历史写入器。
func NewHistoryRecorder(writer Writer) *HistoryRecorder {
	return &HistoryRecorder{writer: writer}
}

// RecordSwap 写入一次确认的换币，拒绝响应直接忽略。
func (h *HistoryRecorder) RecordSwap(ctx context.Context, req swap.Request, resp swap.Response) error {
	if h == nil || h.writer == nil || !resp.IsConfirmed() {
		return nil
	}
	record, err := swapRecord(req, resp)
	if err != nil {
		return err
	}
	return h.writer.Upsert(ctx, []Record{record})
}

func swapRecord(req swap.Request, resp swap.Response) (Record, error) {
	id := resp.Metadata.RequestID
	if id == "" {
		id = req.ID
	}
	if id == "" {
		return Record{}, errors.New("换币记录缺少请求 ID")
	}

	c := resp.Confirmed
	description := fmt.Sprintf("swap %s %s to %s", c.Intent.Amount.String(), c.Intent.Source.Symbol, c.Intent.Destination.Symbol)
	fields := map[string]any{
		"description": description,
		"path":        []string{c.Intent.Source.Symbol, c.Intent.Destination.Symbol},
		"chainId":     resp.Metadata.ChainID,
		"routeId":     c.Quote.RouteID,
	}
	if c.Quote.Protocol != "" {
		fields["dex"] = c.Quote.Protocol
	}
	if !c.Intent.Amount.IsZero() {
		fields["swapRate"] = c.Quote.ExpectedOutput.Div(c.Intent.Amount).String()
	}

	text := strings.TrimSpace(c.Summary)
	if text == "" {
		text = description
	}
	if req.Text != "" {
		text = req.Text + "\n" + text
	}
	return Record{ID: "swap-" + id, Text: text, Fields: fields}, nil
}
