// Package intercept wires the denylist decision engine in front of a real
// resolver. It is the portable, in-process interception adapter: Go programs
// resolve names through the runtime's own resolver rather than libc, so the
// preload library cannot reach them (short of GODEBUG=netdns=cgo). Wrapping
// the resolver used by the program gives those processes the same injected
// failures.
//
// A denied hostname fails with a *net.DNSError carrying IsNotFound, which is
// what the net package itself produces for NXDOMAIN; callers cannot tell an
// injected failure from a genuine one.
package intercept

import (
	"context"
	"net"
)

// errNoSuchHost matches the error text the net package uses for NXDOMAIN.
const errNoSuchHost = "no such host"

// Resolver intercepts hostname lookups, consulting a Decider before
// forwarding to the delegate. It keeps no per-call state and is safe for
// concurrent use.
type Resolver struct {
	decider  Decider
	delegate HostResolver
}

// Options configures a Resolver. Both fields are required.
type Options struct {
	Decider  Decider
	Delegate HostResolver
}

// New constructs an intercepting Resolver.
func New(opts Options) *Resolver {
	return &Resolver{
		decider:  opts.Decider,
		delegate: opts.Delegate,
	}
}

// LookupHost resolves host through the delegate unless the denylist denies
// it. An empty host (service-only lookups) is forwarded without consulting
// the denylist. Delegate results, including all of its error classes, are
// returned verbatim.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if host != "" && r.decider.Decide(host).Denied {
		return nil, &net.DNSError{
			Err:        errNoSuchHost,
			Name:       host,
			IsNotFound: true,
		}
	}
	return r.delegate.LookupHost(ctx, host)
}

var _ HostResolver = (*Resolver)(nil)
