package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"chat-relay/wire"
)

// Server owns the listening socket and one session loop per accepted
// connection. It implements contract.Worker so the supervisor drives its
// lifecycle; only failure to bind the socket is fatal.
type Server struct {
	log        *slog.Logger
	router     *Router
	registry   *Registry
	addr       string
	bufferSize int
	maxLine    int

	mu    sync.Mutex
	bound net.Addr
	live  map[*Session]struct{}
	wg    sync.WaitGroup
}

func NewServer(log *slog.Logger, router *Router, registry *Registry,
	addr string, bufferSize, maxLine int) *Server {
	return &Server{
		log:        log,
		router:     router,
		registry:   registry,
		addr:       addr,
		bufferSize: bufferSize,
		maxLine:    maxLine,
		live:       make(map[*Session]struct{}),
	}
}

// Run binds the listener and accepts until the context is canceled. Each
// accepted connection gets its own session loop goroutine; there is no
// admission control at the relay's target scale.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}
	return s.serve(ctx, listener)
}

// serve owns the listener for the duration of one Run. The listener is
// released on every exit path, so a supervisor restarting the worker after
// an accept failure can rebind the same address.
func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.bound = listener.Addr()
	s.mu.Unlock()
	s.log.Info("relay listening", "addr", listener.Addr().String())

	// Closing the listener is the only way to unblock Accept. The watcher
	// exits with serve, whichever of cancellation or return comes first;
	// the deferred close keeps the release synchronous with the return.
	defer func() { _ = listener.Close() }()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeLive()
				s.wg.Wait()
				s.log.Info("relay stopped")
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Addr reports the bound listen address, nil until Run has bound it.
// Useful when the configured port is 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// closeLive closes every open session so their loops unblock during
// shutdown. Closing the conn makes the pending read return.
func (s *Server) closeLive() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.live))
	for sess := range s.live {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// serveConn is the session loop: frame, decode, dispatch, and on any exit
// run teardown exactly once. A failure here never reaches other sessions.
func (s *Server) serveConn(conn net.Conn) {
	sess := NewSession(conn, s.log, s.bufferSize)
	s.log.Debug("connection accepted", "uid", sess.UID, "remote", conn.RemoteAddr().String())

	s.mu.Lock()
	s.live[sess] = struct{}{}
	s.mu.Unlock()

	go sess.WriteLoop()
	defer s.teardown(sess)

	framer := wire.NewFramer(conn, s.maxLine)
	for {
		line, err := framer.Next()
		if err != nil {
			s.log.Debug("session read ended", "uid", sess.UID, "err", err)
			return
		}
		env, err := wire.Decode(line)
		if err != nil {
			// Skip the offending line, keep the connection open.
			s.log.Debug("dropping malformed envelope", "uid", sess.UID, "err", err)
			continue
		}
		s.router.Dispatch(sess, env)
	}
}

// teardown runs on the session loop's single exit path, so the departure
// announcement fires at most once even when an explicit leave races a read
// error.
func (s *Server) teardown(sess *Session) {
	sess.Close()
	s.mu.Lock()
	delete(s.live, sess)
	s.mu.Unlock()
	s.registry.Unregister(sess.UID)
	if name := sess.Name(); name != "" {
		s.log.Info("session left", "uid", sess.UID, "name", name)
		s.router.AnnounceDeparture(name)
	}
}
