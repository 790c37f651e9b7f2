package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned while authenticating API callers.
var (
	ErrMissingKey       = errors.New("missing api key")
	ErrInvalidKey       = errors.New("invalid api key")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("api key is disabled")
)

// Permissions understood by the REST API.
const (
	PermissionSwapQuery = "swap:query"
	PermissionJobsWrite = "jobs:write"
	PermissionJobsRead  = "jobs:read"
	PermissionAll       = "*"
)

// Mode enumerates the supported authentication modes.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// ParseMode 将配置字符串转换为 Mode，空值视为关闭。
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeDisabled:
		return ModeDisabled, nil
	case ModeAPIKey, "apikey":
		return ModeAPIKey, nil
	default:
		return "", fmt.Errorf("未知的认证模式: %s", raw)
	}
}

// Config configures the authentication service.
type Config struct {
	Mode Mode
	Keys []KeySpec
}

// KeySpec declares one API key and the permissions it grants.
type KeySpec struct {
	Name        string
	Key         string
	Permissions []string
	Disabled    bool
}

// Subject is the caller identity attached to an authenticated request.
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func newSubject(spec KeySpec) *Subject {
	s := &Subject{
		Name:           spec.Name,
		Permissions:    append([]string(nil), spec.Permissions...),
		Disabled:       spec.Disabled,
		permissionsSet: make(map[string]struct{}, len(spec.Permissions)),
	}
	for _, perm := range spec.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
	return s
}

// HasPermission reports whether the subject holds permission or the wildcard.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidKey
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
