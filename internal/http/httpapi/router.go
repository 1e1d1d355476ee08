package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"analyzer/internal/http/handlers"
	"analyzer/internal/middleware"
)

type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	CORSOrigins     []string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins))
	}

	// Public
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/catalog", app.ListCatalog)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Get("/v1/usage", app.Usage)
		r.Route("/v1/analyses", func(r chi.Router) {
			r.Post("/", app.SubmitAnalysis)
			r.Get("/", app.ListAnalyses)
			r.Get("/{id}", app.GetAnalysis)
			r.Post("/{id}/rating", app.RateAnalysis)
			r.Get("/{id}/images.zip", app.DownloadImages)
		})
	})

	return r
}
