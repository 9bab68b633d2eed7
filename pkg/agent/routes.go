package agent

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/PCMI-CASTILHO/FormularioServico/pkg/routing"
)

// MountRoutes creates the HTTP router with the admin API and the
// catch-all proxy mounted.
func (a *Agent) MountRoutes() chi.Router {
	r := chi.NewRouter()

	// Add common middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", routing.CacheHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Add health endpoints
	r.Get("/healthz", a.healthHandler)
	r.Get("/livez", a.healthHandler)
	r.Get("/readyz", a.readyHandler)

	// Admin API
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", a.statusHandler)
		r.Get("/config", a.configHandler)
		r.Route("/records", func(r chi.Router) {
			r.Get("/", a.listRecordsHandler)
			r.Post("/", a.createRecordHandler)
			r.Get("/{id}", a.getRecordHandler)
		})
		r.Post("/sync", a.syncHandler)
		r.Get("/journal", a.journalHandler)
		r.Route("/bucket", func(r chi.Router) {
			r.Get("/", a.bucketHandler)
			r.Post("/warm", a.warmHandler)
		})
	})

	// Everything else goes through the offline routing layer.
	r.Handle("/*", a.proxy)

	a.logger.Info("mounted gateway routes", "bucket", a.cfg.BucketID())
	return r
}
