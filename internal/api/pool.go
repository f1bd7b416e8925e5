package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"regci/internal/ci"
)

// PoolService holds the predicates the VM and local dispatchers poll
type PoolService interface {
	HasVMWorkRemaining(ctx context.Context) (bool, error)
	NextLocalToken(ctx context.Context) (string, error)
	NextVMToken(ctx context.Context) (string, error)
}

type PoolRouter struct {
	svc    PoolService
	router chi.Router
}

func (t *PoolRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	t.router.ServeHTTP(writer, request)
}

func NewPoolRouter(svc PoolService) *PoolRouter {
	r := &PoolRouter{
		svc:    svc,
		router: chi.NewRouter(),
	}
	r.router.Get("/vm/remaining", r.VMRemaining)
	r.router.Post("/vm/next", r.next(svc.NextVMToken))
	r.router.Post("/local/next", r.next(svc.NextLocalToken))

	return r
}

func (t *PoolRouter) VMRemaining(w http.ResponseWriter, r *http.Request) {
	remaining, err := t.svc.HasVMWorkRemaining(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Could not check the VM queue")
		http.Error(w, "could not check the VM queue", http.StatusInternalServerError)
		return
	}
	serveJson(w, RemainingResponse{Remaining: remaining})
}

func (t *PoolRouter) next(nextToken func(context.Context) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := nextToken(r.Context())
		switch {
		case errors.Is(err, ci.ErrNotFound):
			serveJsonStatus(w, http.StatusNotFound, statusResponse{Status: statusFailed})
			return
		case err != nil:
			log.Error().Err(err).Msg("Could not read the next queued run")
			http.Error(w, "could not read the queue", http.StatusInternalServerError)
			return
		}
		serveJson(w, TokenResponse{Token: token})
	}
}
