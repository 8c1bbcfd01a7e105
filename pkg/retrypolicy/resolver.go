package retrypolicy

import "maps"

// Resolver maps notification types to retry policies. It is immutable after
// construction and safe for concurrent use without locking.
type Resolver struct {
	policies map[string]Policy
	fallback Policy
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDefaultPolicy overrides the documented default fallback policy.
func WithDefaultPolicy(p Policy) ResolverOption {
	return func(r *Resolver) {
		r.fallback = p
	}
}

// NewResolver builds a resolver from per-type policies. The map is copied,
// so later mutation by the caller has no effect.
func NewResolver(policies map[string]Policy, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		policies: maps.Clone(policies),
		fallback: DefaultPolicy(),
	}
	if r.policies == nil {
		r.policies = make(map[string]Policy)
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the policy for the given notification type, falling back
// to the default policy for unknown types. Pure lookup, no failure mode.
func (r *Resolver) Resolve(notificationType string) Policy {
	if p, ok := r.policies[notificationType]; ok {
		return p
	}
	return r.fallback
}
