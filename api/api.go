// Package api exposes the certificate management REST surface: CRUD for
// certificates and certificate authorities, CSR signing, renewal trigger and
// ACME directory choices.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/certward/certward/certmgr"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	certs  *certmgr.CertificateService
	cas    *certmgr.AuthorityService
	logger *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON logger
// writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates a new API instance.
func New(certs *certmgr.CertificateService, cas *certmgr.AuthorityService, opts ...Option) *API {
	a := &API{certs: certs, cas: cas}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/acme/server_choices", a.ACMEServerChoices)

	r.Route("/certificates", func(r chi.Router) {
		r.Get("/", a.ListCertificates)
		r.Post("/", a.CreateCertificate)
		r.Post("/renew", a.RenewCertificates)
		r.Get("/{certID}", a.GetCertificate)
		r.Put("/{certID}", a.UpdateCertificate)
		r.Delete("/{certID}", a.DeleteCertificate)
		r.Get("/{certID}/fingerprint", a.CertificateFingerprint)
	})

	r.Route("/authorities", func(r chi.Router) {
		r.Get("/", a.ListAuthorities)
		r.Post("/", a.CreateAuthority)
		r.Get("/{caID}", a.GetAuthority)
		r.Put("/{caID}", a.UpdateAuthority)
		r.Delete("/{caID}", a.DeleteAuthority)
		r.Post("/{caID}/sign", a.SignCSR)
	})

	return r
}
