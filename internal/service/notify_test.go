package service

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

// TestSdNotify_NoSocket verifies SdNotify is a silent no-op when NOTIFY_SOCKET is unset.
func TestSdNotify_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	// Must not panic or error.
	SdNotify(NotifyReady)
}

// TestSdNotify_WithSocket verifies SdNotify sends the state string to the socket.
func TestSdNotify_WithSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a Unix datagram listener.
	ln, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Net: "unixgram", Name: sockPath})
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	t.Setenv("NOTIFY_SOCKET", sockPath)
	for _, state := range []string{NotifyReady, NotifyStopping} {
		SdNotify(state)

		buf := make([]byte, 128)
		ln.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		n, err := ln.Read(buf)
		if err != nil {
			t.Fatalf("read from socket: %v", err)
		}
		if got := string(buf[:n]); got != state {
			t.Errorf("SdNotify sent %q, want %q", got, state)
		}
	}
}

// TestSdNotify_DialFailure verifies a missing socket is only logged.
func TestSdNotify_DialFailure(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "missing.sock"))
	SdNotify(NotifyReady)
}
