package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a token bucket per client address. Forwarding headers
// are honoured only when the direct peer is a trusted proxy.
type clientLimiter struct {
	perSecond float64
	burst     int
	trusted   []*net.IPNet

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func newClientLimiter(perSecond float64, burst int, trustedProxies []string) *clientLimiter {
	l := &clientLimiter{
		perSecond: perSecond,
		burst:     burst,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if ip := net.ParseIP(entry); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			l.trusted = append(l.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			l.trusted = append(l.trusted, network)
		}
	}
	return l
}

func (l *clientLimiter) enabled() bool {
	return l != nil && l.perSecond > 0
}

// allow reports whether the client may issue another request now.
func (l *clientLimiter) allow(client string) bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, id)
		}
	}
	v, ok := l.visitors[client]
	if !ok {
		burst := l.burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.perSecond), burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// clientIP resolves the originating address of r.
func (l *clientLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if l == nil || !l.isTrusted(host) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}
	return host
}

func (l *clientLimiter) isTrusted(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range l.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
