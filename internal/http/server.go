// Package http runs the loopback callback server for the OAuth
// authorization-code flow.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CallbackServer listens on the loopback redirect address and hands the
// authorization code from the provider redirect back to the caller.
type CallbackServer struct {
	logger *zap.Logger
	server *http.Server
	state  string
	codeCh chan string
	errCh  chan error
}

func NewCallbackServer(addr, path, state string, logger *zap.Logger) *CallbackServer {
	if path == "" {
		path = "/"
	}

	s := &CallbackServer{
		logger: logger,
		state:  state,
		codeCh: make(chan string, 1),
		errCh:  make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleCallback)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start begins serving in the background. Listen errors surface through
// WaitForCode.
func (s *CallbackServer) Start() error {
	s.logger.Info("Starting OAuth callback server",
		zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.errCh <- fmt.Errorf("callback server failed: %w", err)
		}
	}()

	return nil
}

// WaitForCode blocks until the provider redirects with an authorization
// code, the flow fails, or ctx is done.
func (s *CallbackServer) WaitForCode(ctx context.Context) (string, error) {
	select {
	case code := <-s.codeCh:
		return code, nil
	case err := <-s.errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *CallbackServer) Shutdown(ctx context.Context) error {
	s.logger.Debug("Shutting down OAuth callback server")
	return s.server.Shutdown(ctx)
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		s.fail(w, fmt.Errorf("authorization denied: %s", errParam))
		return
	}

	if got := query.Get("state"); got != s.state {
		s.fail(w, fmt.Errorf("state mismatch in OAuth callback"))
		return
	}

	code := query.Get("code")
	if code == "" {
		s.fail(w, fmt.Errorf("no authorization code in OAuth callback"))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>playlistctl</title></head>
<body>
    <h1>Authorization complete</h1>
    <p>You can close this window and return to the terminal.</p>
</body>
</html>`)); err != nil {
		s.logger.Warn("Failed to write callback response", zap.Error(err))
	}

	select {
	case s.codeCh <- code:
	default:
	}
}

func (s *CallbackServer) fail(w http.ResponseWriter, err error) {
	s.logger.Warn("OAuth callback failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusBadRequest)

	select {
	case s.errCh <- err:
	default:
	}
}
