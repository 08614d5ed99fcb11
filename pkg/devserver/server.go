package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/killallgit/flowchat/pkg/config"
	"github.com/killallgit/flowchat/pkg/logger"
	"github.com/tmc/langchaingo/llms"
)

// Options configures a Server
type Options struct {
	Addr   string
	APIKey string
	TopK   int
	// TokenInterval paces streamed tokens, zero streams as fast as the model
	TokenInterval time.Duration
}

// OptionsFromSettings builds server options from the loaded settings
func OptionsFromSettings(s config.DevServerConfig) Options {
	return Options{
		Addr:          s.Addr,
		APIKey:        s.APIKey,
		TopK:          s.TopK,
		TokenInterval: s.TokenInterval,
	}
}

// Server is a local prediction backend speaking the same REST and
// event stream protocol as the real service
type Server struct {
	opts      Options
	store     *Store
	retriever *Retriever
	model     llms.Model
	aborts    *abortRegistry
	router    chi.Router
	log       *logger.ComponentLogger
}

func New(opts Options, store *Store, retriever *Retriever, model llms.Model) *Server {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	s := &Server{
		opts:      opts,
		store:     store,
		retriever: retriever,
		model:     model,
		aborts:    newAbortRegistry(),
		log:       logger.WithComponent("devserver"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/v1/prediction/{chatflowId}", s.handlePrediction)
		r.Post("/api/v1/internal-prediction/{chatflowId}", s.handlePrediction)

		r.Get("/api/v1/chatmessage/{chatflowId}", s.handleListMessages)
		r.Delete("/api/v1/chatmessage/{chatflowId}", s.handleDeleteMessages)
		r.Put("/api/v1/chatmessage/abort/{chatflowId}/{chatId}", s.handleAbort)

		r.Post("/api/v1/feedback/{chatflowId}", s.handleFeedback)
	})
	return r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// authenticate accepts a bearer key, or basic auth with the key as password
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if _, pass, ok := r.BasicAuth(); ok && pass == s.opts.APIKey {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") == "Bearer "+s.opts.APIKey {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "Unauthorized Access")
	})
}
