package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/costory/costory/internal/config"
	"github.com/costory/costory/internal/handler"
	"github.com/costory/costory/internal/handler/ai"
	"github.com/costory/costory/internal/handler/story"
	"github.com/costory/costory/internal/handler/usage"
	"github.com/costory/costory/internal/logging"
	"github.com/costory/costory/internal/middleware"
	"github.com/costory/costory/internal/svc"
)

// ServerOptions holds optional dependencies for the server
type ServerOptions struct {
	SvcCtx *svc.ServiceContext // Pre-initialized service context
	Quiet  bool                // Suppress access logs
}

// Run starts the CoStory API server.
// It blocks until the context is cancelled or an error occurs.
func Run(ctx context.Context, c config.Config, opts ...ServerOptions) error {
	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	svcCtx := o.SvcCtx
	if svcCtx == nil {
		var err error
		svcCtx, err = svc.NewServiceContext(c)
		if err != nil {
			return err
		}
		defer svcCtx.Close()
	}
	svcCtx.Start(ctx)

	ln, err := net.Listen("tcp", c.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.Addr(), err)
	}

	// No WriteTimeout: generation streams outlive any sane write deadline and
	// are bounded by the runner's request timeout instead.
	httpServer := &http.Server{
		Handler:           NewRouter(svcCtx, o.Quiet),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Infof("Server ready at http://%s", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logging.Info("Shutting down server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// NewRouter builds the route tree.
func NewRouter(svcCtx *svc.ServiceContext, quiet bool) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if !quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handler.HealthCheckHandler(svcCtx))

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", ai.ListModelsHandler(svcCtx))

		// Protected routes (JWT required)
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTMiddleware(svcCtx.Config.Auth.AccessSecret))
			registerProtectedRoutes(r, svcCtx)
		})
	})
	return r
}

func registerProtectedRoutes(r chi.Router, svcCtx *svc.ServiceContext) {
	// Generation routes are throttled per user.
	r.Group(func(r chi.Router) {
		if svcCtx.Limiter != nil {
			r.Use(svcCtx.Limiter.Middleware())
		}
		r.Post("/stories/{storyID}/ai/chat", story.ChatHandler(svcCtx))
		r.Post("/ai/edit", ai.EditHandler(svcCtx))
	})

	r.Get("/stories/{storyID}/chat", story.GetChatHistoryHandler(svcCtx))
	r.Delete("/stories/{storyID}/chat", story.ClearChatHistoryHandler(svcCtx))

	r.Get("/usage", usage.GetUsageHandler(svcCtx))
	r.Post("/usage/track-words", usage.TrackWordsHandler(svcCtx))

	r.Post("/reading-lists/check", usage.CheckReadingListHandler(svcCtx))
	r.Post("/reading-lists", usage.CreateReadingListHandler(svcCtx))
}
