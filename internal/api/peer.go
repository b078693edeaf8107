package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/nikicat/sudo-prompt/internal/procutil"
)

type connContextKey struct{}

// connContext returns a ConnContext function for http.Server that stores
// the net.Conn in the request context. This allows handlers to retrieve
// the underlying connection (e.g., for Unix socket peer credentials).
func connContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connContextKey{}, c)
}

// getuid is swapped in tests.
var getuid = os.Getuid

// sameUser rejects peers running as another user. Connections without
// peer credentials (tests, non-Linux hosts) pass through.
func sameUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, uid, ok := peerCred(r.Context()); ok && int(uid) != getuid() {
			slog.Warn("rejected API peer", "uid", uid)
			writeError(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// describePeer returns the peer's process chain, e.g. "make[812] ← bash[400]",
// or "" when it cannot be determined.
func describePeer(ctx context.Context) string {
	pid, _, ok := peerCred(ctx)
	if !ok {
		return ""
	}
	chain := procutil.ReadProcessChain(pid, true)
	labels := make([]string, len(chain))
	for i, p := range chain {
		labels[i] = p.String()
	}
	return strings.Join(labels, " ← ")
}

// peerInvoker returns the program behind the peer, skipping shells, or ""
// when it cannot be determined.
func peerInvoker(ctx context.Context) string {
	pid, _, ok := peerCred(ctx)
	if !ok || pid <= 0 {
		return ""
	}
	comm, _ := procutil.ResolveInvoker(uint32(pid))
	return comm
}
