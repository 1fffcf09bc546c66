package online

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrCircuitOpen is returned for requests to a host whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of the breaker of one responder host.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type hostCircuit struct {
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool
}

// HostBreakers keeps one circuit breaker per responder host, so an
// unreachable CRL distribution point or OCSP responder stops being queried
// without affecting requests to the other hosts.
//
// A host opens after threshold consecutive failures. Once cooldown has
// elapsed a single trial request is let through: its success closes the
// circuit, its failure opens it again. Client errors (HTTP 4xx other than 429)
// show the host is up and count as successes.
type HostBreakers struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	threshold int
	cooldown  time.Duration
	hosts     map[string]*hostCircuit
}

// NewHostBreakers creates a breaker set. A nil clock uses the real clock.
func NewHostBreakers(clock clockwork.Clock, threshold int, cooldown time.Duration) *HostBreakers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if threshold < 1 {
		threshold = 1
	}
	return &HostBreakers{
		clock:     clock,
		threshold: threshold,
		cooldown:  cooldown,
		hosts:     make(map[string]*hostCircuit),
	}
}

// State returns the state of host. Unknown hosts are closed.
func (b *HostBreakers) State(host string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hc, ok := b.hosts[host]; ok {
		return hc.state
	}
	return CircuitClosed
}

// Do runs fn unless the circuit of host is open, and records its outcome.
func (b *HostBreakers) Do(host string, fn func() error) error {
	if !b.admit(host) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}
	err := fn()
	b.record(host, err)
	return err
}

func (b *HostBreakers) admit(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	hc, ok := b.hosts[host]
	if !ok {
		hc = &hostCircuit{}
		b.hosts[host] = hc
	}
	switch hc.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.clock.Since(hc.openedAt) < b.cooldown {
			return false
		}
		hc.state = CircuitHalfOpen
		hc.trial = true
		return true
	default:
		// Only one trial request is in flight at a time.
		if hc.trial {
			return false
		}
		hc.trial = true
		return true
	}
}

func (b *HostBreakers) record(host string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hc := b.hosts[host]
	hc.trial = false
	if errors.Is(err, context.Canceled) {
		// The caller gave up; nothing was learned about the host.
		if hc.state == CircuitHalfOpen {
			hc.state = CircuitOpen
		}
		return
	}
	if !hostFailure(err) {
		hc.state = CircuitClosed
		hc.failures = 0
		return
	}
	hc.failures++
	if hc.state == CircuitHalfOpen || hc.failures >= b.threshold {
		hc.state = CircuitOpen
		hc.openedAt = b.clock.Now()
	}
}

// hostFailure reports whether err says the host itself is unhealthy.
func hostFailure(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
