package intent

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/llm"
	"swappilot/internal/swap"
)

// maxIntegerDigits 限制数量整数部分的位数，拒绝明显失控的模型输出。
const maxIntegerDigits = 30

// Options 控制意图校验策略。
type Options struct {
	DefaultSlippage decimal.Decimal
	MaxSlippage     decimal.Decimal
}

// Parser 调用大模型并对结果做确定性校验。
type Parser struct {
	client   llm.Client
	registry Registry
	opts     Options
}

// NewParser 创建意图解析器。
func NewParser(client llm.Client, registry Registry, opts Options) *Parser {
	if !opts.DefaultSlippage.IsPositive() {
		opts.DefaultSlippage = decimal.RequireFromString("0.5")
	}
	if !opts.MaxSlippage.IsPositive() {
		opts.MaxSlippage = decimal.NewFromInt(5)
	}
	if opts.DefaultSlippage.GreaterThan(opts.MaxSlippage) {
		opts.DefaultSlippage = opts.MaxSlippage
	}
	return &Parser{client: client, registry: registry, opts: opts}
}

// Parse 生成唯一的换币意图。
func (p *Parser) Parse(ctx context.Context, req swap.Request, snippets []swap.ContextSnippet) (swap.Intent, error) {
	if p == nil || p.client == nil || p.registry == nil {
		return swap.Intent{}, xerrors.New(swap.CodeInferenceUnavailable, "未配置意图解析器")
	}

	output, err := p.client.Complete(ctx, buildPrompt(req.Text, snippets))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return swap.Intent{}, ctxErr
		}
		return swap.Intent{}, xerrors.Wrap(swap.CodeInferenceUnavailable, err, "调用大模型失败")
	}

	raw, ok := decodeRaw(output)
	if !ok {
		raw, ok = parseFallback(req.Text)
	}
	if !ok {
		return swap.Intent{}, xerrors.New(swap.CodeIntentUnparseable, "无法从请求中识别换币意图")
	}
	if rawScalar(raw.Amount) == "" {
		// 模型漏掉数量时以用户原文为准。
		if fallback, found := parseFallback(req.Text); found {
			raw.Amount = fallback.Amount
		}
	}
	return validate(raw, req, p.registry, p.opts)
}

// validate 对模型输出逐项做确定性校验。
func validate(raw rawIntent, req swap.Request, registry Registry, opts Options) (swap.Intent, error) {
	chainID := req.ChainID
	if chainID == "" {
		chainID = MainnetChainID
	}
	fromSymbol := strings.TrimSpace(raw.FromToken)
	toSymbol := strings.TrimSpace(raw.ToToken)
	if fromSymbol == "" || toSymbol == "" {
		return swap.Intent{}, xerrors.New(swap.CodeIntentUnparseable, "缺少源代币或目标代币")
	}

	source, ok := registry.Resolve(chainID, fromSymbol)
	if !ok {
		return swap.Intent{}, unknownToken(fromSymbol)
	}
	destination, ok := registry.Resolve(chainID, toSymbol)
	if !ok {
		return swap.Intent{}, unknownToken(toSymbol)
	}
	if source.SameAs(destination) {
		return swap.Intent{}, xerrors.New(swap.CodeIntentUnparseable, "源代币与目标代币相同")
	}

	amount, err := parseAmount(rawScalar(raw.Amount), source)
	if err != nil {
		return swap.Intent{}, err
	}

	return swap.Intent{
		Source:       source,
		Destination:  destination,
		Amount:       amount,
		Wallet:       req.Wallet,
		MaxSlippage:  parseSlippage(rawScalar(raw.Slippage), opts),
		PreferredDEX: strings.TrimSpace(raw.DEX),
	}, nil
}

func parseAmount(value string, token swap.Token) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, xerrors.New(swap.CodeIntentUnparseable, "缺少换币数量")
	}
	value = strings.ReplaceAll(value, ",", "")
	if strings.ContainsAny(value, "eE") {
		return decimal.Zero, xerrors.New(swap.CodeIntentUnparseable, "数量格式非法", xerrors.WithMetadata(swap.MetaDetail, value))
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(swap.CodeIntentUnparseable, err, "数量格式非法", xerrors.WithMetadata(swap.MetaDetail, value))
	}
	if !amount.IsPositive() {
		return decimal.Zero, xerrors.New(swap.CodeIntentUnparseable, "数量必须大于零")
	}
	if len(amount.Truncate(0).Abs().String()) > maxIntegerDigits {
		return decimal.Zero, xerrors.New(swap.CodeIntentUnparseable, "数量超出范围")
	}
	if !amount.Equal(amount.Truncate(token.Decimals)) {
		return decimal.Zero, xerrors.New(swap.CodeIntentUnparseable, "数量精度超过代币精度",
			xerrors.WithMetadata(swap.MetaSymbol, token.Symbol))
	}
	return amount, nil
}

// parseSlippage 解析滑点百分比，非法值回退为默认值。
func parseSlippage(value string, opts Options) decimal.Decimal {
	if value == "" {
		return opts.DefaultSlippage
	}
	slippage, err := decimal.NewFromString(strings.TrimSuffix(value, "%"))
	if err != nil || !slippage.IsPositive() || slippage.GreaterThan(opts.MaxSlippage) {
		return opts.DefaultSlippage
	}
	return slippage
}

func unknownToken(symbol string) error {
	return xerrors.New(swap.CodeUnknownToken, "代币未在注册表中",
		xerrors.WithMetadata(swap.MetaSymbol, strings.ToUpper(symbol)))
}
