package llm

import "context"

// Prompt 描述发送给大模型的一次补全请求。
type Prompt struct {
	System string
	User   string
}

// Client 定义了调用大模型的统一接口，返回未经校验的原始文本。
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, prompt Prompt) (string, error)

// Complete 实现 Client 接口。
func (f ClientFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
