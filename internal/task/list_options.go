package task

import (
	"slices"
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 决定按 UpdatedAt 排序的方向。
type SortOrder int

const (
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

// ListOptions 是任务列表查询条件，零值表示最近 20 条。
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	// Wallet 按小写保存，比较时忽略大小写。
	Wallet     string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption   { return func(o *ListOptions) { o.Limit = limit } }
func WithOffset(offset int) ListOption { return func(o *ListOptions) { o.Offset = offset } }

// WithStatuses 只返回给定状态的任务，非法状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = slices.Clone(statuses) }
}

// WithWallet 只返回某个钱包提交的任务。
func WithWallet(wallet string) ListOption { return func(o *ListOptions) { o.Wallet = wallet } }

// WithUpdatedSince 与 WithUpdatedUntil 以秒为精度、闭区间过滤，零值表示不限。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedGTE = unixOrZero(ts) }
}

func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedLTE = unixOrZero(ts) }
}

func WithSortOrder(order SortOrder) ListOption { return func(o *ListOptions) { o.Order = order } }

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	return o
}

func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Wallet = strings.ToLower(strings.TrimSpace(o.Wallet))

	var statuses []Status
	for _, st := range o.Statuses {
		if IsValidStatus(st) && !slices.Contains(statuses, st) {
			statuses = append(statuses, st)
		}
	}
	o.Statuses = statuses
}

func (o ListOptions) matches(job *Job) bool {
	switch {
	case len(o.Statuses) > 0 && !slices.Contains(o.Statuses, job.Status):
		return false
	case o.Wallet != "" && !strings.EqualFold(job.Request.Wallet, o.Wallet):
		return false
	case o.UpdatedGTE > 0 && job.UpdatedAt < o.UpdatedGTE:
		return false
	case o.UpdatedLTE > 0 && job.UpdatedAt > o.UpdatedLTE:
		return false
	}
	return true
}
