package api

import (
	"log/slog"
	"net"
	"os"
)

// peerListener refuses Unix socket connections from processes running as
// another user.
type peerListener struct {
	net.Listener
	logger *slog.Logger
}

func (l *peerListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.allowed(conn) {
			return conn, nil
		}
		conn.Close()
	}
}

func (l *peerListener) allowed(conn net.Conn) bool {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return true
	}
	uid, known, err := peerUID(uc)
	if err != nil {
		l.logger.Warn("reading peer credentials failed", "error", err)
		return false
	}
	if !known {
		return true
	}
	if uid != os.Getuid() {
		l.logger.Warn("rejected connection from another user", "uid", uid)
		return false
	}
	return true
}
