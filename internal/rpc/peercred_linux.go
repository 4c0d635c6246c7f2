//go:build linux

package rpc

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials resolves the connecting process's uid/gid/pid via
// SO_PEERCRED.
func peerCredentials(conn *net.UnixConn) (*PeerCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	if sockErr != nil {
		return nil, sockErr
	}
	return &PeerCred{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}
