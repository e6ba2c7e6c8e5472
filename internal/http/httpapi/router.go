package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"scenecast/internal/http/handlers"
	"scenecast/internal/infra"
	"scenecast/internal/middleware"
)

// Options configures routing concerns that are not handler dependencies.
type Options struct {
	Logger          *infra.Logger
	RateLimitPerMin int
	CORSOrigins     []string
	// Static serves stored artifacts under /static when set.
	Static http.Handler
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
		middleware.CORS(opts.CORSOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/credits", app.Credits)

	r.Route("/v1/generations", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Group(func(r chi.Router) {
			r.Post("/", app.CreateGeneration)
			r.Post("/from-scene", app.CreateFromScene)
		})
		r.Get("/{id}", app.GetGeneration)
		r.Get("/{id}/events", app.GenerationEvents)
	})

	if opts.Static != nil {
		r.Mount("/static", http.StripPrefix("/static", opts.Static))
	}

	return r
}
