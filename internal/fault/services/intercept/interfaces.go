package intercept

import (
	"context"

	"github.com/failpoint-io/dnsfault/internal/fault/domain"
)

// Decider answers whether a hostname is currently denied. The denylist
// engine is the production implementation.
type Decider interface {
	Decide(host string) domain.Decision
}

// HostResolver is the delegate "real" resolution implementation. Both
// *net.Resolver and the upstream gateway satisfy it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}
