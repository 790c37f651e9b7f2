package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"swappilot/pkg/logger"
)

// HeaderAPIKey 是除 Authorization 之外可携带密钥的请求头。
const HeaderAPIKey = "X-API-Key"

// Service 校验 API 密钥并把调用方身份写入请求上下文。
type Service struct {
	mode  Mode
	keys  map[string]*Subject
	audit *slog.Logger
}

// NewService 根据配置构建认证服务，关闭模式下不要求任何密钥。
func NewService(cfg Config) (*Service, error) {
	s := &Service{mode: cfg.Mode, keys: make(map[string]*Subject, len(cfg.Keys)), audit: logger.Audit()}
	if s.mode == "" {
		s.mode = ModeDisabled
	}
	if s.mode == ModeDisabled {
		return s, nil
	}
	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("认证模式 %s 需要至少一个 API 密钥", cfg.Mode)
	}
	for i, spec := range cfg.Keys {
		key := strings.TrimSpace(spec.Key)
		if key == "" {
			return nil, fmt.Errorf("第 %d 个 API 密钥为空", i+1)
		}
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("key-%d", i+1)
		}
		digest := fingerprint(key)
		if _, dup := s.keys[digest]; dup {
			return nil, fmt.Errorf("API 密钥 %s 重复", spec.Name)
		}
		s.keys[digest] = newSubject(spec)
	}
	return s, nil
}

// Enabled 报告是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// Authenticate 从请求头中解析密钥并返回对应主体。
func (s *Service) Authenticate(r *http.Request) (*Subject, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if key == "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			key = strings.TrimSpace(header[7:])
		}
	}
	if key == "" {
		return nil, ErrMissingKey
	}
	digest := fingerprint(key)
	for candidate, subject := range s.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(digest)) == 1 {
			return subject, nil
		}
	}
	return nil, ErrInvalidKey
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type subjectKey struct{}

// WithSubject 将已认证的主体写入上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 读取上下文中的主体，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}
