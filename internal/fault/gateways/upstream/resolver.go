// Package upstream is a small DNS client used as the "real" resolution
// delegate behind the interceptor, for end-to-end tooling and tests. It
// forwards queries to configured servers over UDP with serial failover; the
// first server to answer wins.
package upstream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/failpoint-io/dnsfault/internal/fault/repos/answercache"
	"github.com/failpoint-io/dnsfault/internal/fault/services/intercept"
)

const (
	errNoServersProvided = "no upstream DNS servers provided"
	errAllServersFailed  = "all %d upstream servers failed"
)

// Resolver resolves hostnames by querying upstream DNS servers.
type Resolver struct {
	servers []string
	timeout time.Duration
	client  *dns.Client
	cache   *answercache.Cache
}

// Options defines configuration parameters for the upstream resolver.
type Options struct {
	// Servers is the list of upstream DNS servers in ip:port form. Required.
	Servers []string
	// Timeout is the per-query timeout. Defaults to 5 seconds.
	Timeout time.Duration
	// Cache optionally stores answers until their TTL expires.
	Cache *answercache.Cache
}

// NewResolver creates an upstream resolver with the specified options.
// Returns an error if the server list is empty.
func NewResolver(opts Options) (*Resolver, error) {
	if len(opts.Servers) == 0 {
		return nil, fmt.Errorf(errNoServersProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Resolver{
		servers: opts.Servers,
		timeout: opts.Timeout,
		client:  &dns.Client{Net: "udp", Timeout: opts.Timeout},
		cache:   opts.Cache,
	}, nil
}

// LookupHost resolves host to its addresses, querying A then AAAA records.
// NXDOMAIN and empty answers map to *net.DNSError with IsNotFound set, the
// same shape the net package produces.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if _, ok := dns.IsDomainName(host); !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	if r.cache != nil {
		if addrs, ok := r.cache.Get(host); ok {
			return addrs, nil
		}
	}

	var (
		addrs  []string
		minTTL uint32
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := r.exchange(ctx, dns.Fqdn(host), qtype)
		if err != nil {
			return nil, err
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, &net.DNSError{Err: "server misbehaving", Name: host, IsTemporary: true}
		}
		for _, rr := range resp.Answer {
			switch a := rr.(type) {
			case *dns.A:
				addrs = append(addrs, a.A.String())
			case *dns.AAAA:
				addrs = append(addrs, a.AAAA.String())
			default:
				continue
			}
			if ttl := rr.Header().Ttl; minTTL == 0 || ttl < minTTL {
				minTTL = ttl
			}
		}
	}

	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	if r.cache != nil {
		r.cache.Set(host, addrs, time.Duration(minTTL)*time.Second)
	}
	return addrs, nil
}

// exchange sends one query, trying each server in order until one responds.
func (r *Resolver) exchange(ctx context.Context, fqdn string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(r.servers), lastErr)
}

var _ intercept.HostResolver = (*Resolver)(nil)
