// Package callback implements the loopback OAuth2 redirect server, per
// spec.md §4.7: bind 127.0.0.1:<port>, auto-advance through port+1..port+9
// on EADDRINUSE, and route only /oauth2callback, /favicon.ico, and /.
// Routing follows the teacher pack's go-chi/chi wiring (apimgr-vidveil's
// server.go).
package callback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net"
	"net/http"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
)

// CallbackHandler processes the authorization server's redirect query.
type CallbackHandler func(ctx context.Context, query map[string][]string) error

// Server is the loopback HTTP listener that receives the OAuth2 redirect.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
	boundPort  int
	onCallback CallbackHandler
}

// New builds a Server wired to onCallback; it does not bind a socket until
// Start is called.
func New(onCallback CallbackHandler) *Server {
	s := &Server{router: chi.NewRouter(), onCallback: onCallback}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/oauth2callback", s.handleCallback)
	s.router.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
}

// PortAdvanceWarning is returned by Start when the server bound a port other
// than the one requested, per spec.md §4.7.
type PortAdvanceWarning struct {
	Requested int
	Bound     int
}

func (w *PortAdvanceWarning) Error() string {
	return fmt.Sprintf("callback: requested port %d was in use, bound %d instead; update the authorization redirect registration", w.Requested, w.Bound)
}

// Start binds configuredPort, trying configuredPort+1..+9 on EADDRINUSE, and
// serves in the background. It returns a *PortAdvanceWarning as warning
// (with a nil err; the server is running) when the bound port differs from
// configuredPort.
func (s *Server) Start(configuredPort int) (warning error, err error) {
	var ln net.Listener
	bound := configuredPort
	var lastErr error
	for k := 0; k <= 9; k++ {
		candidate := configuredPort + k
		ln, lastErr = net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(candidate))
		if lastErr == nil {
			bound = candidate
			break
		}
		if !isAddrInUse(lastErr) {
			return nil, fmt.Errorf("callback: binding loopback listener: %w", lastErr)
		}
	}
	if ln == nil {
		return nil, fmt.Errorf("callback: no free port in range [%d, %d]: %w", configuredPort, configuredPort+9, lastErr)
	}

	s.listener = ln
	s.boundPort = bound
	s.httpServer = &http.Server{Handler: s.router}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[callback] server stopped: %v", err)
		}
	}()

	log.Printf("[callback] listening on 127.0.0.1:%d", bound)

	if bound != configuredPort {
		return &PortAdvanceWarning{Requested: configuredPort, Bound: bound}, nil
	}
	return nil, nil
}

// BoundPort returns the port actually bound by the last successful Start.
func (s *Server) BoundPort() int {
	return s.boundPort
}

// RedirectURI returns the loopback redirect URI to register with the
// authorization server, using the port actually bound.
func (s *Server) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/oauth2callback", s.boundPort)
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := s.onCallback(r.Context(), map[string][]string(r.URL.Query())); err != nil {
		log.Printf("[callback] authorization callback failed: %v", err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>%s</p></body></html>", html.EscapeString(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<html><body><h1>Authorization complete</h1><p>You may close this window.</p></body></html>")
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
