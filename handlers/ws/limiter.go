package ws

import "sync"

// ipLimiter caps concurrent connections per client address. It is checked
// before any token work so flooding addresses are shed cheaply.
type ipLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

func newIPLimiter(max int) *ipLimiter {
	return &ipLimiter{counts: make(map[string]int), max: max}
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] >= l.max {
		return false
	}
	l.counts[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.counts[ip] - 1; n > 0 {
		l.counts[ip] = n
	} else {
		delete(l.counts, ip)
	}
}
