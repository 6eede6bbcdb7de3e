package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"kittypau/internal/config"
)

// authGuard 接口边界鉴权：共享密钥 + 静态 bearer token。
// 任何读写之前先拒绝未授权请求。
type authGuard struct {
	cfg config.AuthConfig
}

func newAuthGuard(cfg config.AuthConfig) *authGuard {
	return &authGuard{cfg: cfg}
}

func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// BridgeAuth 桥心跳：X-Bridge-Secret
func (g *authGuard) BridgeAuth(r *http.Request) bool {
	return secretEqual(r.Header.Get("X-Bridge-Secret"), g.cfg.BridgeSecret)
}

// SchedulerAuth 健康检查：桥密钥或调度器 bearer token 二选一
func (g *authGuard) SchedulerAuth(r *http.Request) bool {
	if g.BridgeAuth(r) {
		return true
	}
	return secretEqual(bearerToken(r), g.cfg.SchedulerToken)
}

// AdminAuth 管理端：静态 admin bearer token
func (g *authGuard) AdminAuth(r *http.Request) bool {
	return secretEqual(bearerToken(r), g.cfg.AdminToken)
}
