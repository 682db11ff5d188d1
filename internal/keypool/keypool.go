package keypool

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNoKeys is returned by New when the configured key list is empty.
// This is a startup-fatal condition; Acquire never fails at runtime.
var ErrNoKeys = errors.New("keypool: no API keys configured")

// failureThreshold is the error count at which a key is deactivated.
const failureThreshold = 5

// record tracks health and usage for a single API key.
type record struct {
	key          string
	requestCount int64
	errorCount   int
	active       bool
	lastUsedAt   time.Time
}

// Pool distributes load across interchangeable API keys round-robin, tracks
// per-key error counts, deactivates a key after repeated failures, and
// reactivates every key when none remain usable. All methods are safe for
// concurrent use; the original single-event-loop assumption does not hold
// for goroutines, so state is guarded by a mutex.
type Pool struct {
	mu      sync.Mutex
	records []*record
	cursor  int
	now     func() time.Time

	// OnDeactivate, if set, is called each time a key crosses the failure
	// threshold. OnReactivateSweep is called when a full pass found zero
	// active keys and every key was reset. Both run with the pool lock held
	// and must not call back into the pool; intended for metrics.
	OnDeactivate      func()
	OnReactivateSweep func()
}

// New creates a Pool from an ordered key list. Blank entries are dropped
// after trimming; an empty result returns ErrNoKeys.
func New(keys []string) (*Pool, error) {
	p := &Pool{now: time.Now}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		p.records = append(p.records, &record{key: k, active: true})
	}
	if len(p.records) == 0 {
		return nil, ErrNoKeys
	}
	return p, nil
}

// Acquire returns the next active key round-robin. When a full pass finds no
// active key, every key is reactivated with its error count reset and the
// scan is retried; that retry always succeeds, so Acquire never fails on a
// constructed pool.
func (p *Pool) Acquire() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r := p.nextActiveLocked(); r != nil {
		return r.key
	}
	p.reactivateAllLocked()
	return p.nextActiveLocked().key
}

func (p *Pool) nextActiveLocked() *record {
	n := len(p.records)
	for i := 0; i < n; i++ {
		r := p.records[p.cursor%n]
		p.cursor = (p.cursor + 1) % n
		if r.active {
			r.requestCount++
			r.lastUsedAt = p.now()
			return r
		}
	}
	return nil
}

func (p *Pool) reactivateAllLocked() {
	for _, r := range p.records {
		r.active = true
		r.errorCount = 0
	}
	if p.OnReactivateSweep != nil {
		p.OnReactivateSweep()
	}
}

// ReportSuccess resets the error count for the key. No-op if the key is not
// in the pool.
func (p *Pool) ReportSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r := p.findLocked(key); r != nil {
		r.errorCount = 0
	}
}

// ReportFailure increments the error count for the key and deactivates it at
// the failure threshold. No-op if the key is not in the pool.
func (p *Pool) ReportFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.findLocked(key)
	if r == nil {
		return
	}
	r.errorCount++
	if r.errorCount >= failureThreshold && r.active {
		r.active = false
		if p.OnDeactivate != nil {
			p.OnDeactivate()
		}
	}
}

func (p *Pool) findLocked(key string) *record {
	for _, r := range p.records {
		if r.key == key {
			return r
		}
	}
	return nil
}

// KeyStats describes one key's health. The key itself is redacted.
type KeyStats struct {
	Key          string    `json:"key"`
	RequestCount int64     `json:"requestCount"`
	ErrorCount   int       `json:"errorCount"`
	Active       bool      `json:"active"`
	LastUsedAt   time.Time `json:"lastUsedAt,omitempty"`
}

// Stats is a snapshot of pool health for the status endpoint.
type Stats struct {
	TotalKeys     int        `json:"totalKeys"`
	ActiveKeys    int        `json:"activeKeys"`
	TotalRequests int64      `json:"totalRequests"`
	Keys          []KeyStats `json:"keys"`
}

// Stats returns a snapshot of pool health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{TotalKeys: len(p.records)}
	for _, r := range p.records {
		if r.active {
			s.ActiveKeys++
		}
		s.TotalRequests += r.requestCount
		s.Keys = append(s.Keys, KeyStats{
			Key:          redact(r.key),
			RequestCount: r.requestCount,
			ErrorCount:   r.errorCount,
			Active:       r.active,
			LastUsedAt:   r.lastUsedAt,
		})
	}
	return s
}

// redact keeps a short prefix so operators can tell keys apart without
// exposing the secret.
func redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
