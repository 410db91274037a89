// libdnsfault is the preload interception library. Built as a C shared
// library and loaded into a target process via LD_PRELOAD, it interposes
// libc's getaddrinfo so every hostname resolution in the process is checked
// against the denylist control file first:
//
//	go build -buildmode=c-shared -o libdnsfault.so ./cmd/libdnsfault
//	LD_PRELOAD=/path/to/libdnsfault.so some-program
//
// A denied hostname fails with EAI_NONAME, indistinguishable from a genuine
// NXDOMAIN. Anything else, including service-only lookups with a null node,
// is forwarded verbatim to the real getaddrinfo.
//
// Interposition covers any runtime that resolves through libc's getaddrinfo:
// Node.js (libuv thread pool), Python, Java, Rust. Go programs use the
// runtime's pure Go resolver and bypass libc entirely; point them at
// intercept.Resolver instead, or force the cgo resolver with
// GODEBUG=netdns=cgo. The glibc async variant getaddrinfo_a is not
// interposed.
//
// If the preload itself fails to load, the target starts without
// interception and the denylist silently no-ops. That is the intended
// failure mode: fail open, never take down the thing under test.
package main

/*
#cgo LDFLAGS: -ldl

#include <netdb.h>

// Definitions live in shim.c; a preamble in a file with exported functions
// may only declare.
void *dnsfault_next_getaddrinfo(void);
int dnsfault_call_getaddrinfo(void *fn, const char *node, const char *service,
                              const struct addrinfo *hints, struct addrinfo **res);
*/
import "C"

import (
	"sync/atomic"
	"unsafe"

	"github.com/failpoint-io/dnsfault/internal/fault/denylist"
)

// engine is stateless; sharing one instance across threads is safe.
var engine = denylist.New()

// realGetaddrinfo caches the handle to the next getaddrinfo definition in
// the process's load order. Write-once-read-many with benign redundant
// writes: threads racing on first use may each perform the lookup, and any
// of them storing the (identical) result is sufficient. A failed lookup is
// not cached, so the next call retries.
var realGetaddrinfo unsafe.Pointer

//export dnsfaultGetaddrinfo
func dnsfaultGetaddrinfo(node, service *C.char, hints *C.struct_addrinfo, res **C.struct_addrinfo) C.int {
	fn := atomic.LoadPointer(&realGetaddrinfo)
	if fn == nil {
		fn = C.dnsfault_next_getaddrinfo()
		if fn == nil {
			// No delegate to forward to; this single call fails with a
			// system-level error. Everything else in this library fails
			// open, but proceeding without the real implementation cannot
			// be done safely.
			return C.EAI_SYSTEM
		}
		atomic.StorePointer(&realGetaddrinfo, fn)
	}

	if node != nil {
		if host := C.GoString(node); host != "" && engine.IsDenied(host) {
			return C.EAI_NONAME
		}
	}

	return C.dnsfault_call_getaddrinfo(fn, node, service, hints, res)
}

func main() {}
