package agent

import (
	"math"
	"time"
)

// Stage 表示流水线中的状态。
type Stage string

const (
	StageRetrieving Stage = "Retrieving"
	StageParsing    Stage = "Parsing"
	StageQuoting    Stage = "Quoting"
	StageValidating Stage = "Validating"
	StageComposing  Stage = "Composing"
	StageDone       Stage = "Done"
)

// StageSettings 控制单个阶段的超时与重试。
type StageSettings struct {
	// Timeout 作用于每一次尝试，零值表示不设超时。
	Timeout time.Duration
	// Retries 是首次尝试之后允许的重试次数。
	Retries int
}

// Backoff 描述指数退避参数。
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay 返回第 retry 次重试（从 1 开始）前的等待时间。
func (b Backoff) Delay(retry int) time.Duration {
	if retry <= 0 || b.Base <= 0 {
		return 0
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(b.Base) * math.Pow(multiplier, float64(retry-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// Settings 是传给编排器的不可变配置。
type Settings struct {
	Retrieval    StageSettings
	Parsing      StageSettings
	Quoting      StageSettings
	Validating   StageSettings
	Backoff      Backoff
	DefaultChain string
	MaxTextRunes int
}

// DefaultSettings 返回默认配置。
func DefaultSettings() Settings {
	return Settings{
		Retrieval:    StageSettings{Timeout: 2 * time.Second, Retries: 1},
		Parsing:      StageSettings{Timeout: 20 * time.Second, Retries: 2},
		Quoting:      StageSettings{Timeout: 5 * time.Second, Retries: 3},
		Validating:   StageSettings{Timeout: 5 * time.Second, Retries: 3},
		Backoff:      Backoff{Base: 200 * time.Millisecond, Multiplier: 2, Max: 3 * time.Second},
		DefaultChain: "1",
		MaxTextRunes: 2000,
	}
}

func (s Settings) stage(stage Stage) StageSettings {
	switch stage {
	case StageRetrieving:
		return s.Retrieval
	case StageParsing:
		return s.Parsing
	case StageQuoting:
		return s.Quoting
	case StageValidating:
		return s.Validating
	default:
		return StageSettings{}
	}
}
