package useragent

import "sync/atomic"

// DefaultPool is a set of current desktop browser User-Agents used for product
// page fetches.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Pool hands out User-Agents in rotation. It is safe for concurrent use.
type Pool struct {
	uas  []string
	next atomic.Uint64
}

// NewPool copies uas into a new pool, falling back to DefaultPool when empty.
func NewPool(uas []string) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	return &Pool{uas: append([]string(nil), uas...)}
}

// Len reports the pool size.
func (p *Pool) Len() int { return len(p.uas) }

// Next returns User-Agents round-robin.
func (p *Pool) Next() string {
	if len(p.uas) == 0 {
		return ""
	}
	i := p.next.Add(1) - 1
	return p.uas[i%uint64(len(p.uas))]
}
