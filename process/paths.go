package process

import "slices"

// Resolver looks up the client command lines. It never executes anything;
// an empty result means "not available, try the next one".
type Resolver interface {
	ClientPath() []string
	FallbackClientPath() []string
}

// StaticResolver returns fixed command lines, typically from configuration.
type StaticResolver struct {
	Primary  []string
	Fallback []string
}

// ClientPath implements Resolver.
func (r StaticResolver) ClientPath() []string { return slices.Clone(r.Primary) }

// FallbackClientPath implements Resolver.
func (r StaticResolver) FallbackClientPath() []string { return slices.Clone(r.Fallback) }

// OverrideResolver prefers non-empty fields of Override and consults Base otherwise.
type OverrideResolver struct {
	Base     Resolver
	Override StaticResolver
}

// ClientPath implements Resolver.
func (r OverrideResolver) ClientPath() []string {
	if len(r.Override.Primary) > 0 {
		return r.Override.ClientPath()
	}
	return r.Base.ClientPath()
}

// FallbackClientPath implements Resolver.
func (r OverrideResolver) FallbackClientPath() []string {
	if len(r.Override.Fallback) > 0 {
		return r.Override.FallbackClientPath()
	}
	return r.Base.FallbackClientPath()
}
