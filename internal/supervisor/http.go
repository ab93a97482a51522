package supervisor

import (
	"context"
	"fmt"
	"time"
)

// Listener is the slice of *fiber.App the service drives.
type Listener interface {
	Listen(addr string) error
	ShutdownWithContext(ctx context.Context) error
}

// HTTPService adapts a blocking Listen to suture's context-driven Serve.
type HTTPService struct {
	server          Listener
	addr            string
	shutdownTimeout time.Duration
}

func NewHTTPService(server Listener, addr string, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, addr: addr, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.Listen(h.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server on %s: %w", h.addr, err)
		}
		return nil
	case <-ctx.Done():
		// ctx is already cancelled; shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server:" + h.addr }
