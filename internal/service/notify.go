package service

import (
	"log/slog"
	"net"
	"os"
	"strings"
)

// sd_notify states sent by serve.
const (
	NotifyReady    = "READY=1"
	NotifyStopping = "STOPPING=1"
)

// SdNotify sends a state notification to systemd via NOTIFY_SOCKET.
// If NOTIFY_SOCKET is not set (non-systemd environment), returns silently.
// Dial failures are logged as warnings but do not return an error (fire-and-forget).
func SdNotify(state string) {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return
	}
	// Abstract namespace sockets are announced with a leading '@'.
	if strings.HasPrefix(socket, "@") {
		socket = "\x00" + socket[1:]
	}
	conn, err := net.Dial("unixgram", socket)
	if err != nil {
		slog.Warn("sd-notify dial failed", "socket", socket, "error", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(state)); err != nil {
		slog.Warn("sd-notify write failed", "state", state, "error", err)
	}
}
