package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/failpoint-io/dnsfault/internal/fault/controlfile"
	"github.com/failpoint-io/dnsfault/internal/fault/denylist"
	"github.com/failpoint-io/dnsfault/internal/fault/gateways/upstream"
	"github.com/failpoint-io/dnsfault/internal/fault/services/intercept"
)

// e2eZone answers A queries for a fixed set of names and NXDOMAIN otherwise.
type e2eZone struct {
	records map[string]string
}

func (z *e2eZone) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	q := r.Question[0]

	ip, ok := z.records[q.Name]
	if !ok {
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
		return
	}
	if q.Qtype == dns.TypeA {
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP(ip),
		})
	}
	_ = w.WriteMsg(m)
}

// newE2EStack wires writer → control file → engine → interceptor → real DNS
// server, returning the writer and the intercepting resolver.
func newE2EStack(t *testing.T) (*controlfile.Writer, intercept.HostResolver) {
	t.Helper()

	zone := &e2eZone{records: map[string]string{
		"api.example.com.":         "192.0.2.10",
		"db.internal.":             "192.0.2.20",
		"db.internal.example.com.": "192.0.2.21",
		"evil.com.":                "192.0.2.30",
	}}
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{PacketConn: pc, Handler: zone}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	path := filepath.Join(t.TempDir(), ".denylist")
	writer := controlfile.NewWriter(controlfile.WriterOptions{Path: path})

	delegate, err := upstream.NewResolver(upstream.Options{
		Servers: []string{pc.LocalAddr().String()},
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	resolver := intercept.New(intercept.Options{
		Decider:  denylist.NewAt(path),
		Delegate: delegate,
	})
	return writer, resolver
}

func assertNXDOMAIN(t *testing.T, err error) {
	t.Helper()
	var dnsErr *net.DNSError
	require.ErrorAs(t, err, &dnsErr)
	assert.True(t, dnsErr.IsNotFound)
}

func TestE2E_InactiveDenylistResolves(t *testing.T) {
	_, resolver := newE2EStack(t)

	addrs, err := resolver.LookupHost(context.Background(), "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.10"}, addrs)
}

func TestE2E_ExactPatternDenies(t *testing.T) {
	writer, resolver := newE2EStack(t)
	require.NoError(t, writer.Publish([]string{`^api\.example\.com$`}))

	_, err := resolver.LookupHost(context.Background(), "api.example.com")
	assertNXDOMAIN(t, err)
}

func TestE2E_SuffixAnchorSemantics(t *testing.T) {
	writer, resolver := newE2EStack(t)
	require.NoError(t, writer.Publish([]string{`.*\.internal$`}))

	_, err := resolver.LookupHost(context.Background(), "db.internal")
	assertNXDOMAIN(t, err)

	addrs, err := resolver.LookupHost(context.Background(), "db.internal.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.21"}, addrs)
}

func TestE2E_MalformedLineThenValid(t *testing.T) {
	writer, resolver := newE2EStack(t)
	require.NoError(t, writer.Publish([]string{"[unterminated", `evil\.com`}))

	_, err := resolver.LookupHost(context.Background(), "evil.com")
	assertNXDOMAIN(t, err)
}

func TestE2E_DeactivationRestoresResolution(t *testing.T) {
	writer, resolver := newE2EStack(t)
	require.NoError(t, writer.Publish([]string{`^api\.example\.com$`}))

	_, err := resolver.LookupHost(context.Background(), "api.example.com")
	assertNXDOMAIN(t, err)

	require.NoError(t, writer.Deactivate())

	addrs, err := resolver.LookupHost(context.Background(), "api.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.10"}, addrs)
}

func TestE2E_GenuineNXDOMAINUnaffected(t *testing.T) {
	writer, resolver := newE2EStack(t)
	require.NoError(t, writer.Publish([]string{`^api\.example\.com$`}))

	// A name the real server does not know fails identically with the
	// denylist active or not.
	_, err := resolver.LookupHost(context.Background(), "unknown.example.net")
	assertNXDOMAIN(t, err)
}
