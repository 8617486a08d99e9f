// Package auth 为管理 API 提供基于静态 Bearer Token 的访问控制与审计日志。
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"PluginHub/pkg/logger"
)

// 认证失败的原因。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Config 描述允许访问管理 API 的令牌。未配置令牌时不做认证。
type Config struct {
	Tokens []string `yaml:"tokens"`
	// ReadOnlyTokens 只能访问 GET 请求。
	ReadOnlyTokens []string `yaml:"read_only_tokens"`
}

// Enabled 报告是否配置了任何令牌。
func (c Config) Enabled() bool {
	return len(c.Tokens) > 0 || len(c.ReadOnlyTokens) > 0
}

// Guard 校验请求令牌并记录审计日志。
type Guard struct {
	tokens   [][]byte
	readOnly [][]byte
}

// NewGuard 根据配置创建 Guard，空白令牌会被忽略。
func NewGuard(cfg Config) *Guard {
	return &Guard{
		tokens:   normalize(cfg.Tokens),
		readOnly: normalize(cfg.ReadOnlyTokens),
	}
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g == nil || (len(g.tokens) == 0 && len(g.readOnly) == 0) {
			next.ServeHTTP(w, r)
			return
		}
		role, err := g.authenticate(r.Header.Get("Authorization"))
		if err != nil {
			g.deny(w, r, http.StatusUnauthorized, err)
			return
		}
		if role == roleReader && r.Method != http.MethodGet && r.Method != http.MethodHead {
			g.deny(w, r, http.StatusForbidden, errors.New("read-only token"))
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		logger.Audit().Info("api_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", aw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("role", string(role)),
		)
	})
}

type role string

const (
	roleAdmin  role = "admin"
	roleReader role = "reader"
)

func (g *Guard) authenticate(header string) (role, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	candidate := []byte(strings.TrimSpace(token))
	if matchAny(g.tokens, candidate) {
		return roleAdmin, nil
	}
	if matchAny(g.readOnly, candidate) {
		return roleReader, nil
	}
	return "", ErrInvalidToken
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, status int, err error) {
	http.Error(w, http.StatusText(status), status)
	logger.Audit().Warn("access_denied",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}

func matchAny(tokens [][]byte, candidate []byte) bool {
	found := false
	for _, t := range tokens {
		if subtle.ConstantTimeCompare(t, candidate) == 1 {
			found = true
		}
	}
	return found
}

func normalize(raw []string) [][]byte {
	out := make([][]byte, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, []byte(t))
		}
	}
	return out
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
