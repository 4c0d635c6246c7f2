//go:build darwin

package rpc

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials resolves the connecting process's uid/gid/pid via
// LOCAL_PEERCRED/LOCAL_PEERPID, the BSD-socket equivalent of Linux's
// SO_PEERCRED used on macOS.
func peerCredentials(conn *net.UnixConn) (*PeerCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}

	var xucred *unix.Xucred
	var pid int
	var credErr, pidErr error
	err = raw.Control(func(fd uintptr) {
		xucred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		pid, pidErr = unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	})
	if err != nil {
		return nil, err
	}
	if credErr != nil {
		return nil, credErr
	}
	cred := &PeerCred{UID: xucred.Uid}
	if pidErr == nil {
		cred.PID = int32(pid)
	}
	return cred, nil
}
