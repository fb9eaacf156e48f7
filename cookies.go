package goGuard

import (
	"net/http"
	"time"
)

// AccessCookie returns the HttpOnly cookie carrying an access token. Secure
// is set outside the dev profile.
func (e *Engine) AccessCookie(token string) *http.Cookie {
	return e.tokenCookie(e.config.Cookie.AccessName, token, e.config.JWT.AccessTTL)
}

// RefreshCookie returns the HttpOnly cookie carrying a refresh token.
func (e *Engine) RefreshCookie(value string) *http.Cookie {
	return e.tokenCookie(e.config.Cookie.RefreshName, value, e.config.Refresh.TTL)
}

// SetTokenCookies writes both cookies of res.
func (e *Engine) SetTokenCookies(w http.ResponseWriter, res *LoginResult) {
	if res == nil {
		return
	}
	http.SetCookie(w, e.AccessCookie(res.AccessToken))
	http.SetCookie(w, e.RefreshCookie(res.RefreshToken))
}

// ClearCookies expires both token cookies on the client.
func (e *Engine) ClearCookies(w http.ResponseWriter) {
	for _, name := range []string{e.config.Cookie.AccessName, e.config.Cookie.RefreshName} {
		c := e.tokenCookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// RefreshFromRequest returns the refresh cookie value of r, or "".
func (e *Engine) RefreshFromRequest(r *http.Request) string {
	c, err := r.Cookie(e.config.Cookie.RefreshName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (e *Engine) tokenCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   e.config.Cookie.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   !e.config.IsDev(),
		SameSite: http.SameSiteStrictMode,
	}
}
