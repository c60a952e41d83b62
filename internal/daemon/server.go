package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/api"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/session"
)

// Server manages the HTTP server lifecycle for a session daemon. It
// listens on the session's Unix domain socket, which doubles as access
// control since the socket is owner-only.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates an HTTP server bound to the session's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, handlers *api.Handlers) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		httpServer: &http.Server{
			Handler:           handlers.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("api server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	_ = os.Remove(s.socketPath)
}
