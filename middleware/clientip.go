package middleware

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller's address. With trustedProxies > 0 the
// X-Forwarded-For entry appended by the outermost trusted proxy wins, then
// X-Real-IP; otherwise, or when neither header parses, RemoteAddr is used.
//
// Only the rightmost trustedProxies entries of X-Forwarded-For were written
// by infrastructure we control. Anything to their left is client supplied.
func GetClientIP(r *http.Request, trustedProxies int) string {
	if trustedProxies > 0 {
		if ip := ipFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxies); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

func ipFromXFF(xff string, trustedProxies int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxies
	if idx < 0 {
		idx = 0
	}
	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
