package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// SocketServer is the primary transport: a Unix domain socket accepting
// newline-framed JSON-RPC requests, one connection per client, many
// sequential request/response pairs per connection (spec.md §4.3
// "Concurrency").
type SocketServer struct {
	path       string
	dispatcher *Dispatcher
	pool       *Pool
	log        *zap.Logger

	mu       sync.Mutex
	listener net.Listener

	// authorize, if set, gates each accepted connection's verified peer
	// uid (spec.md §4.3 "only the broker user, the profile's agent user,
	// and root may connect"). Nil means unrestricted, used by tests and
	// any embed that enforces authorization elsewhere.
	authorize func(uid uint32) bool
}

// SetAuthorizer installs a peer-uid gate applied to every accepted
// connection after its SO_PEERCRED/LOCAL_PEERCRED credentials are read. A
// typical value is a profile.Store-backed closure resolving the connecting
// uid's profile and calling its AuthorizesSocketPeer.
func (s *SocketServer) SetAuthorizer(fn func(uid uint32) bool) {
	s.authorize = fn
}

// NewSocketServer binds path with mode 0660 (spec.md §6 "Unix socket").
// It does not change the socket file's group, which stays whatever the
// creating process and directory give it. Any stale socket file from a
// prior run is removed first.
func NewSocketServer(path string, dispatcher *Dispatcher, pool *Pool, log *zap.Logger) (*SocketServer, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0660); err != nil {
		l.Close()
		return nil, err
	}
	return &SocketServer{path: path, dispatcher: dispatcher, pool: pool, log: log, listener: l}, nil
}

// Serve accepts connections until the listener is closed.
func (s *SocketServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and removes the socket file.
func (s *SocketServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *SocketServer) handleConn(conn net.Conn) {
	defer conn.Close()

	var cred *PeerCred
	if uc, ok := conn.(*net.UnixConn); ok {
		c, err := peerCredentials(uc)
		if err != nil {
			s.log.Warn("rejecting unix connection with unverifiable peer credentials", zap.Error(err))
			return
		}
		cred = c
	}
	if s.authorize != nil && cred != nil && !s.authorize(cred.UID) {
		s.log.Warn("rejecting unix connection from unauthorized peer", zap.Uint32("uid", cred.UID))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(writer, Failure(nil, NewError(CodeValidation, "malformed request")))
			continue
		}

		connCtx := WithPeerCred(context.Background(), cred)
		respCh := make(chan *Response, 1)
		rpcErr := s.pool.Submit(connCtx, func() {
			respCh <- s.dispatcher.Dispatch(connCtx, ChannelSocket, &req)
		})
		if rpcErr != nil {
			writeResponse(writer, Failure(req.ID, rpcErr))
			continue
		}
		writeResponse(writer, <-respCh)
	}
}

func writeResponse(w *bufio.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}
