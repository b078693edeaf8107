package api

import (
	"context"
	"net"

	"golang.org/x/sys/unix"
)

// peerCred returns the credentials of the process on the other end of the
// Unix socket connection stored in ctx.
func peerCred(ctx context.Context) (pid int32, uid uint32, ok bool) {
	c, ok := ctx.Value(connContextKey{}).(net.Conn)
	if !ok || c == nil {
		return 0, 0, false
	}

	uc, ok := c.(*net.UnixConn)
	if !ok {
		return 0, 0, false
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}

	var cred *unix.Ucred
	var credErr error
	raw.Control(func(fd uintptr) { //nolint:errcheck
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if credErr != nil || cred == nil {
		return 0, 0, false
	}
	return cred.Pid, cred.Uid, true
}
