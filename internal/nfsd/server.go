package nfsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	gonfs "github.com/willscott/go-nfs"

	"github.com/tinyrange/msandbox/internal/vfscore"
)

// Server owns the listener and the Handler backing it.
type Server struct {
	ln      net.Listener
	handler *Handler
	logger  *slog.Logger
}

// NewServer binds ln to vfs and returns a Server ready for Serve.
func NewServer(ln net.Listener, vfs vfscore.VFS, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ln: ln, handler: NewHandler(vfs), logger: logger}
}

// Serve runs go-nfs's accept loop on the bound listener until ctx is
// cancelled or the listener is closed. go-nfs multiplexes mount and
// NFSv3 RPC traffic for every connection against the single Handler,
// so one Server instance is the whole NFS session state described in
// spec.md §4.E.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = s.ln.Close()
		case <-done:
		}
	}()
	defer close(done)

	s.logger.Info("nfs server listening", slog.String("addr", s.ln.Addr().String()))
	if err := gonfs.Serve(s.ln, s.handler); err != nil {
		select {
		case <-ctx.Done():
			return nil
		default:
			return fmt.Errorf("nfsd: serve: %w", err)
		}
	}
	return nil
}
