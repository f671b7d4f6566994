package handlers

import (
	"net/http"
	"time"

	"github.com/PhilHem/villa-auth/backend/auth"
	"github.com/PhilHem/villa-auth/backend/middleware"
	"github.com/PhilHem/villa-auth/backend/security"

	"github.com/gorilla/sessions"
	"gorm.io/gorm"
)

type Options struct {
	Auth           *auth.Service
	DB             *gorm.DB // log viewer
	SessionSecret  string
	SessionTimeout time.Duration // pending 2FA login lifetime
	SecureCookies  bool
	TrustProxy     bool
}

// API holds the HTTP handlers and what they share.
type API struct {
	auth       *auth.Service
	db         *gorm.DB
	sessions   *sessions.CookieStore
	csrf       *middleware.CSRFProtection
	pendingTTL time.Duration
	trustProxy bool
	now        func() time.Time
}

func New(opts Options) *API {
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &API{
		auth:       opts.Auth,
		db:         opts.DB,
		sessions:   NewSessionStore(opts.SessionSecret, timeout, opts.SecureCookies),
		csrf:       middleware.NewCSRFProtection(opts.SessionSecret, opts.SecureCookies),
		pendingTTL: timeout,
		trustProxy: opts.TrustProxy,
		now:        time.Now,
	}
}

func (a *API) clientIP(r *http.Request) string {
	return middleware.ClientIP(r, a.trustProxy)
}

// Routes registers every endpoint on a new mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(a.auth, security.RoleAdmin, h)
	}
	member := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireRole(a.auth, security.RoleMember, h)
	}

	// Health check (unauthenticated, for load balancers)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Admin auth
	mux.HandleFunc("POST /admin/login", a.AdminLogin)
	mux.HandleFunc("GET /admin/verify-2fa", a.TOTPVerifyStatus)
	mux.HandleFunc("POST /admin/verify-2fa", a.csrf.ProtectFunc(a.TOTPVerify))
	mux.HandleFunc("POST /admin/verify-token", a.VerifyToken)

	// Admin 2FA management
	mux.HandleFunc("POST /admin/setup-2fa", admin(a.TOTPSetup))
	mux.HandleFunc("POST /admin/enable-2fa", admin(a.TOTPEnable))
	mux.HandleFunc("POST /admin/disable-2fa", admin(a.TOTPDisable))
	mux.HandleFunc("GET /admin/2fa-status", admin(a.TOTPStatus))

	// Admin log viewer
	mux.HandleFunc("GET /admin/api/logs", admin(a.GetLogs))
	mux.HandleFunc("GET /admin/api/logs/sources", admin(a.GetLogSources))
	mux.HandleFunc("GET /admin/api/logs/timeline", admin(a.GetLogTimeline))
	mux.HandleFunc("DELETE /admin/api/logs", admin(a.DeleteLogs))

	// Members
	mux.HandleFunc("POST /members/register", a.RegisterMember)
	mux.HandleFunc("POST /members/login", a.MemberLogin)
	mux.HandleFunc("POST /members/verify-email", a.VerifyEmail)
	mux.HandleFunc("POST /members/resend-verification", a.ResendVerification)
	mux.HandleFunc("GET /members/me", member(a.Me))

	return mux
}

// Handler wraps the routes with rate limiting and security headers. The
// headers go outermost so 429s carry them.
func (a *API) Handler(limiter *middleware.RateLimiter) http.Handler {
	var h http.Handler = a.Routes()
	if limiter != nil {
		h = limiter.Limit(h)
	}
	return middleware.SecurityHeaders(h)
}
