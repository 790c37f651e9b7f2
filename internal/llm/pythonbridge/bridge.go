package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"swappilot/internal/llm"
)

const maxStderrBytes = 2 << 10

// Config 描述本地推理脚本。
type Config struct {
	// Executable 默认为 python3。
	Executable string
	// Script 为相对路径时相对 WorkingDir 解析。
	Script     string
	WorkingDir string
	// Env 追加到当前进程环境变量之后。
	Env []string
}

// Client 把提示词以 JSON 写入脚本标准输入，并把标准输出当作模型回复。
type Client struct {
	cfg Config
}

// NewClient 校验配置并创建客户端。
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, errors.New("未指定推理脚本路径")
	}
	if cfg.Executable == "" {
		cfg.Executable = "python3"
	}
	if !filepath.IsAbs(cfg.Script) && cfg.WorkingDir != "" {
		cfg.Script = filepath.Join(cfg.WorkingDir, cfg.Script)
	}
	return &Client{cfg: cfg}, nil
}

type request struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Complete 执行一次脚本调用。脚本可以输出 {"text": "..."}，也可以直接输出文本。
func (c *Client) Complete(ctx context.Context, prompt llm.Prompt) (string, error) {
	payload, err := json.Marshal(request{System: prompt.System, User: prompt.User})
	if err != nil {
		return "", errors.Wrap(err, "序列化请求失败")
	}

	cmd := exec.CommandContext(ctx, c.cfg.Executable, c.cfg.Script)
	cmd.Dir = c.cfg.WorkingDir
	cmd.WaitDelay = time.Second
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.cfg.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.Wrap(ctxErr, "推理脚本被中断")
		}
		msg := stderr.Bytes()
		if len(msg) > maxStderrBytes {
			msg = msg[len(msg)-maxStderrBytes:]
		}
		return "", errors.Wrapf(err, "推理脚本执行失败: %s", bytes.TrimSpace(msg))
	}

	out := bytes.TrimSpace(stdout.Bytes())
	var envelope struct {
		Text *string `json:"text"`
	}
	if json.Unmarshal(out, &envelope) == nil && envelope.Text != nil {
		return strings.TrimSpace(*envelope.Text), nil
	}
	return string(out), nil
}

var _ llm.Client = (*Client)(nil)
