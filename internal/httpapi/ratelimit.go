package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterExpiry = 10 * time.Minute

type limitedHost struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// connectLimiter throttles websocket connection attempts per remote host.
type connectLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	hosts map[string]*limitedHost
	now   func() time.Time
}

// newConnectLimiter returns nil, which allows everything, when perSecond <= 0.
func newConnectLimiter(perSecond float64, burst int) *connectLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &connectLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		hosts: make(map[string]*limitedHost),
		now:   time.Now,
	}
}

func (l *connectLimiter) allow(host string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, h := range l.hosts {
		if now.Sub(h.lastSeen) > limiterExpiry {
			delete(l.hosts, key)
		}
	}
	h, ok := l.hosts[host]
	if !ok {
		h = &limitedHost{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.hosts[host] = h
	}
	h.lastSeen = now
	return h.limiter.AllowN(now, 1)
}
