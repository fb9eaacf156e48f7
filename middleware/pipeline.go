package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/sirupsen/logrus"
)

type principalContextKey struct{}

// PrincipalFromContext returns the caller validated by the bearer stage.
func PrincipalFromContext(ctx context.Context) (*goGuard.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*goGuard.Principal)
	return p, ok && p != nil
}

// Routes names the paths, relative to the auth prefix, that receive the
// captcha and username stages.
type Routes struct {
	Captcha  []string
	Username []string
}

// DefaultRoutes covers the login, register and OTP endpoints.
func DefaultRoutes() Routes {
	return Routes{
		Captcha:  []string{"/login", "/register"},
		Username: []string{"/login", "/login-otp", "/send-otp", "/reset-otp"},
	}
}

type Option func(*Pipeline)

// WithRoutes replaces DefaultRoutes.
func WithRoutes(r Routes) Option {
	return func(p *Pipeline) { p.routes = r }
}

// WithAnonymous exempts paths outside the auth prefix from bearer
// validation. A trailing "/" exempts the whole subtree.
func WithAnonymous(paths ...string) Option {
	return func(p *Pipeline) { p.anonymous = append(p.anonymous, paths...) }
}

// Pipeline is the request guard in front of every route.
type Pipeline struct {
	engine    *goGuard.Engine
	log       *logrus.Logger
	prefix    string
	maxBody   int64
	proxies   int
	routes    Routes
	anonymous []string
}

func New(engine *goGuard.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine: engine,
		routes: DefaultRoutes(),
		log:    logrus.StandardLogger(),
	}
	if engine != nil {
		cfg := engine.Config()
		p.prefix = strings.TrimSuffix(cfg.Pipeline.AuthPrefix, "/")
		p.maxBody = cfg.Pipeline.MaxBodyBytes
		p.proxies = cfg.Pipeline.TrustedProxies
		if l := engine.Logger(); l != nil {
			p.log = l
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handler wraps next with every stage.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.engine == nil {
			writeError(w, goGuard.ErrEngineNotReady, http.StatusServiceUnavailable, "backend_unavailable")
			return
		}

		ip := GetClientIP(r, p.proxies)
		ctx := goGuard.WithClientIP(r.Context(), ip)
		ctx = goGuard.WithUserAgent(ctx, r.UserAgent())
		r = r.WithContext(ctx)

		r, err := p.bufferBody(w, r)
		if err != nil {
			p.reject(w, r, "body", err)
			return
		}

		route, underPrefix := p.relative(r.URL.Path)

		if underPrefix {
			if err := p.engine.CheckIPRate(ctx, ip); err != nil {
				p.reject(w, r, "ip_rate", err)
				return
			}
		}

		if underPrefix && p.engine.CaptchaEnabled() && contains(p.routes.Captcha, route) {
			if err := p.checkCaptcha(r); err != nil {
				p.reject(w, r, "captcha", err)
				return
			}
		}

		if underPrefix && contains(p.routes.Username, route) {
			if username := usernameOf(r); username != "" {
				if err := p.engine.CheckUsernameRate(ctx, username); err != nil {
					p.reject(w, r, "username_rate", err)
					return
				}
			}
		}

		if !underPrefix && !p.isAnonymous(r.URL.Path) {
			principal, err := p.engine.ValidateAccess(ctx, p.engine.ExtractToken(r))
			if err != nil {
				p.reject(w, r, "bearer", err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), principalContextKey{}, principal))
		}

		next.ServeHTTP(w, r)
	})
}

func (p *Pipeline) checkCaptcha(r *http.Request) error {
	body, _ := BodyFromContext(r.Context())
	return p.engine.VerifyCaptcha(r.Context(), body.Field("captchaToken"), body.Field("captchaResponse"))
}

// relative reports whether path lies under the auth prefix and returns the
// remainder.
func (p *Pipeline) relative(path string) (string, bool) {
	if p.prefix == "" {
		return path, false
	}
	if path == p.prefix {
		return "/", true
	}
	if !strings.HasPrefix(path, p.prefix+"/") {
		return path, false
	}
	return strings.TrimSuffix(path[len(p.prefix):], "/"), true
}

func (p *Pipeline) isAnonymous(path string) bool {
	for _, a := range p.anonymous {
		if path == a || (strings.HasSuffix(a, "/") && strings.HasPrefix(path, a)) {
			return true
		}
	}
	return false
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, stage string, err error) {
	status := goGuard.StatusOf(err)
	code := goGuard.ErrorCode(err)
	if errors.Is(err, errBodyTooLarge) {
		status, code = http.StatusRequestEntityTooLarge, "validation"
	}

	entry := p.log.WithFields(logrus.Fields{
		"stage":  stage,
		"path":   r.URL.Path,
		"ip":     goGuard.ClientIP(r.Context()),
		"status": status,
	})
	if status == http.StatusServiceUnavailable {
		entry.WithError(err).Error("request pipeline failed closed")
	} else {
		entry.WithField("code", code).Debug("request rejected")
	}
	writeError(w, err, status, code)
}

// usernameOf reads the username from the query string, then the JSON body.
func usernameOf(r *http.Request) string {
	if u := strings.TrimSpace(r.URL.Query().Get("username")); u != "" {
		return u
	}
	body, _ := BodyFromContext(r.Context())
	return strings.TrimSpace(body.Field("username"))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
