package warpengine

// hints.go defines the opaque, caller-supplied routing and admission hints
// (spec.md §4.3/§4.5): AccessPattern steers C7 routing, Priority steers
// both routing tiers and C6 admission, and Metadata is an uninterpreted
// map the core never inspects (spec.md §9: "opaque physics metadata").

import (
	"github.com/warpengine/warpengine/internal/balancer"
)

// AccessPattern overrides the balancer's normal routing strategy for one
// operation (spec.md §4.3).
type AccessPattern uint8

const (
	AccessPatternNone AccessPattern = iota
	AccessPatternHot
	AccessPatternWarm
	AccessPatternCold
	AccessPatternBalanced
)

func (a AccessPattern) toInternal() balancer.AccessPattern {
	switch a {
	case AccessPatternHot:
		return balancer.AccessPatternHot
	case AccessPatternWarm:
		return balancer.AccessPatternWarm
	case AccessPatternCold:
		return balancer.AccessPatternCold
	case AccessPatternBalanced:
		return balancer.AccessPatternBalanced
	default:
		return balancer.AccessPatternNone
	}
}

// Priority is the caller-supplied importance hint, used both for routing
// (AccessPatternBalanced) and cache admission (spec.md §4.3/§4.4).
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityCritical
	PriorityHigh
	PriorityLow
	PriorityBackground
)

func (p Priority) toInternal() balancer.Priority {
	switch p {
	case PriorityCritical:
		return balancer.PriorityCritical
	case PriorityHigh:
		return balancer.PriorityHigh
	case PriorityLow:
		return balancer.PriorityLow
	case PriorityBackground:
		return balancer.PriorityBackground
	default:
		return balancer.PriorityNormal
	}
}

// putOptions is PutOption's target; kept unexported so callers can only
// construct one through the With* functions below (mirrors the teacher's
// functional-options idiom in pkg/config.go).
type putOptions struct {
	accessPattern AccessPattern
	priority      Priority
	metadata      map[string]any
	ttlMs         int64
}

// PutOption customizes one Put call.
type PutOption func(*putOptions)

// WithAccessPattern overrides C7 routing for this put.
func WithAccessPattern(p AccessPattern) PutOption {
	return func(o *putOptions) { o.accessPattern = p }
}

// WithPriority sets the importance hint used for routing and cache
// admission.
func WithPriority(p Priority) PutOption {
	return func(o *putOptions) { o.priority = p }
}

// WithMetadata attaches opaque metadata to the put. The core never
// interprets it; only registered observers may read it.
func WithMetadata(m map[string]any) PutOption {
	return func(o *putOptions) { o.metadata = m }
}

// WithTTL attaches an advisory time-to-live in milliseconds. The core does
// not currently enforce expiry; the value is carried in metadata for
// observers and future eviction policies.
func WithTTL(ms int64) PutOption {
	return func(o *putOptions) { o.ttlMs = ms }
}
