package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/metrics"
	"github.com/pzverkov/quantum-chat/pkg/protocol"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Server accepts TCP connections speaking the line-delimited JSON protocol
// and attaches each authenticated connection to the hub.
type Server struct {
	hub    *Hub
	logger *metrics.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Hub routes envelopes for registered connections. Required.
	Hub *Hub

	// Logger for connection lifecycle. Optional; defaults to silent.
	Logger *metrics.Logger
}

// NewServer creates a chat server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = metrics.NullLogger()
	}
	return &Server{
		hub:    cfg.Hub,
		logger: logger.Named("server"),
	}
}

// Listen binds the server to the given address.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", metrics.Fields{"addr": ln.Addr().String()})
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until the context is canceled or the listener
// is closed. Must be called after Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("transport: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting connections and shuts the hub down.
func (s *Server) Close() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.hub.Close()
	s.wg.Wait()
}

// handleConn reads the hello envelope, registers the user, and then pumps
// envelopes in both directions until the connection drops.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), constants.MaxEnvelopeSize)

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	if !scanner.Scan() {
		return
	}
	hello, err := protocol.Decode(scanner.Bytes())
	if err != nil || hello.Type != protocol.TypeHello || hello.Validate() != nil {
		s.writeEnvelope(conn, protocol.ErrorEnvelope("expected hello"))
		return
	}

	c, err := s.hub.Register(hello.Username)
	if err != nil {
		s.writeEnvelope(conn, protocol.ErrorEnvelope(err.Error()))
		return
	}
	defer s.hub.Unregister(c.username)

	logger := s.logger.With(metrics.Fields{"username": c.username})
	logger.Debug("connection established", metrics.Fields{"remote": conn.RemoteAddr().String()})

	// Write pump: envelopes queued on the client flow out here.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case env := <-c.send:
				if err := s.writeEnvelope(conn, env); err != nil {
					conn.Close()
					return
				}
			case <-c.closed:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Time{})
	for scanner.Scan() {
		env, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			s.hub.sendError(c.username, err)
			continue
		}
		s.hub.HandleEnvelope(ctx, c.username, env)
	}
	if err := scanner.Err(); err != nil && errors.Is(err, bufio.ErrTooLong) {
		s.hub.sendError(c.username, qerrors.ErrEnvelopeTooLarge)
	}

	c.close()
	<-done
}

func (s *Server) writeEnvelope(conn net.Conn, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(data)
	return err
}
