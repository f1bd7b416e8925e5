package api

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"regci/internal/ci"
	"regci/internal/models"
)

type RunService interface {
	Create(ctx context.Context, req ci.NewRun) (*models.Run, models.Pool, error)
	ReadOrdered(ctx context.Context, runID int64) iter.Seq2[models.ProgressEntry, error]
}

type RunRouter struct {
	svc    RunService
	router chi.Router
}

func (t *RunRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	t.router.ServeHTTP(writer, request)
}

func NewRunRouter(svc RunService) *RunRouter {
	r := &RunRouter{
		svc:    svc,
		router: chi.NewRouter(),
	}
	r.router.Post("/", r.CreateRun)
	r.router.Get("/{runID}/progress", r.GetProgress)

	return r
}

func (t *RunRouter) CreateRun(w http.ResponseWriter, r *http.Request) {
	var payload CreateRunRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	run, pool, err := t.svc.Create(r.Context(), payload.toNewRun())
	switch {
	case errors.Is(err, ci.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ci.ErrUntrusted):
		http.Error(w, "pull request author is not trusted", http.StatusForbidden)
		return
	case err != nil:
		log.Error().Err(err).Str("repository", payload.Repository).Msg("Failed to create run")
		http.Error(w, "could not create run", http.StatusInternalServerError)
		return
	}

	serveJsonStatus(w, http.StatusCreated, CreateRunResponse{ID: run.ID, Token: run.Token, Pool: pool})
}

func (t *RunRouter) GetProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "runID")
	if !ok {
		return
	}

	entries := []models.ProgressEntry{}
	for entry, err := range t.svc.ReadOrdered(r.Context(), runID) {
		if err != nil {
			log.Error().Err(err).Int64("run_id", runID).Msg("Failed to read progress")
			http.Error(w, "could not read progress", http.StatusInternalServerError)
			return
		}
		entries = append(entries, entry)
	}

	serveJson(w, entries)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+key, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
