package breaker

import (
	"fmt"
	"sync"
)

// Slot states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
	StateUnknown  = "unknown"
)

// Gate reasons.
const (
	ReasonOpen     = "circuit_open"
	ReasonHalfOpen = "circuit_half_open"
)

// Policy configures one scope's breaker. A policy with a non-positive
// threshold or cooldown disables the breaker for that scope entirely.
type Policy struct {
	FailThreshold int
	CooldownSec   int64
}

// Enabled reports whether this policy actually gates anything.
func (p Policy) Enabled() bool {
	return p.FailThreshold > 0 && p.CooldownSec > 0
}

// Slot is the tracked state for one scope.
type Slot struct {
	State          string
	FailCount      int
	OpenUntilEpoch int64
	LastErrorType  string
}

// GateResult is the outcome of a gate check.
type GateResult struct {
	Allowed bool
	Reason  string
}

// CircuitOpenError is returned by breaker-gated callers when the circuit
// rejects a call locally. Operators can tell it apart from a real provider
// failure.
type CircuitOpenError struct {
	Scope     string
	OpenUntil int64
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit_open: scope %q rejected until epoch %d", e.Scope, e.OpenUntil)
}

// Registry tracks breaker slots per named scope. It is an explicit
// dependency-injected object; callers share one registry by reference rather
// than through package-level state.
type Registry struct {
	mu            sync.Mutex
	defaultPolicy Policy
	policies      map[string]Policy
	slots         map[string]*Slot
}

// NewRegistry creates a registry with a default policy applied to every scope
// that has no override.
func NewRegistry(defaultPolicy Policy) *Registry {
	return &Registry{
		defaultPolicy: defaultPolicy,
		policies:      map[string]Policy{},
		slots:         map[string]*Slot{},
	}
}

// SetPolicy overrides the policy for one scope.
func (r *Registry) SetPolicy(scope string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[scope] = p
}

func (r *Registry) policyFor(scope string) Policy {
	if p, ok := r.policies[scope]; ok {
		return p
	}
	return r.defaultPolicy
}

// slotFor lazily creates the slot for a scope. Callers hold r.mu.
func (r *Registry) slotFor(scope string) *Slot {
	s, ok := r.slots[scope]
	if !ok {
		s = &Slot{State: StateUnknown}
		r.slots[scope] = s
	}
	return s
}

// Gate decides whether a call in scope may proceed at the given epoch.
// An open slot whose window has elapsed moves to half_open and lets a single
// trial through.
func (r *Registry) Gate(scope string, now int64) GateResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.policyFor(scope).Enabled() {
		return GateResult{Allowed: true}
	}

	s := r.slotFor(scope)
	if s.State == StateOpen {
		if s.OpenUntilEpoch > now {
			return GateResult{Allowed: false, Reason: ReasonOpen}
		}
		s.State = StateHalfOpen
		return GateResult{Allowed: true, Reason: ReasonHalfOpen}
	}
	return GateResult{Allowed: true}
}

// MarkFailure records a failed call in scope. Crossing the threshold opens the
// circuit for the policy's cooldown; an already-open window is only ever
// extended, never shortened.
func (r *Registry) MarkFailure(scope, errorType string, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.policyFor(scope)
	if !p.Enabled() {
		return
	}

	s := r.slotFor(scope)
	s.FailCount++
	s.LastErrorType = errorType

	if s.FailCount >= p.FailThreshold {
		s.State = StateOpen
		until := now + p.CooldownSec
		if until > s.OpenUntilEpoch {
			s.OpenUntilEpoch = until
		}
		return
	}
	if s.State != StateHalfOpen {
		s.State = StateClosed
	}
}

// MarkSuccess resets the scope to a clean closed slot.
func (r *Registry) MarkSuccess(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.policyFor(scope).Enabled() {
		return
	}

	s := r.slotFor(scope)
	s.State = StateClosed
	s.FailCount = 0
	s.OpenUntilEpoch = 0
	s.LastErrorType = ""
}

// Snapshot returns a copy of every tracked slot, keyed by scope.
func (r *Registry) Snapshot() map[string]Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Slot, len(r.slots))
	for scope, s := range r.slots {
		out[scope] = *s
	}
	return out
}
