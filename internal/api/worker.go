package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"regci/internal/ci"
	"regci/internal/metrics"
	"regci/internal/models"
)

// TokenHeader carries the run token on worker requests
const TokenHeader = "X-Run-Token"

type WorkerService interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
	Append(ctx context.Context, runID int64, status models.ProgressStatus, message string) error
	CompleteUpload(ctx context.Context, runID int64, artifact models.Artifact) (ci.Completion, error)
	Fetch(ctx context.Context, token string) (*ci.FetchResult, error)
}

// WorkerRouter is the worker protocol. Workers only ever see a generic failure, so a
// caller cannot tell an unknown token from a finished run.
type WorkerRouter struct {
	svc    WorkerService
	router chi.Router
}

func (t *WorkerRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	t.router.ServeHTTP(writer, request)
}

func NewWorkerRouter(svc WorkerService) *WorkerRouter {
	r := &WorkerRouter{
		svc:    svc,
		router: chi.NewRouter(),
	}
	r.router.Post("/report", r.Report)
	r.router.Post("/fetch", r.Fetch)

	return r
}

func reject(w http.ResponseWriter) {
	metrics.WorkerRejections.Inc()
	serveJsonStatus(w, http.StatusForbidden, statusResponse{Status: statusFailed})
}

func internalFailure(w http.ResponseWriter) {
	serveJsonStatus(w, http.StatusInternalServerError, statusResponse{Status: statusFailed})
}

func (t *WorkerRouter) Report(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(TokenHeader))
	if token == "" {
		reject(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		reject(w)
		return
	}

	runID, err := t.svc.ValidateToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, ci.ErrNotFound) {
			log.Error().Err(err).Msg("Could not validate run token")
		}
		reject(w)
		return
	}

	switch r.PostForm.Get("type") {
	case "progress":
		t.reportProgress(w, r, runID)
	case "upload":
		t.reportUpload(w, r, runID)
	default:
		reject(w)
	}
}

func (t *WorkerRouter) reportProgress(w http.ResponseWriter, r *http.Request, runID int64) {
	status, err := models.ParseProgressStatus(r.PostForm.Get("status"))
	if err != nil {
		reject(w)
		return
	}

	err = t.svc.Append(r.Context(), runID, status, r.PostForm.Get("message"))
	switch {
	case errors.Is(err, ci.ErrNotFound):
		// the run finished after the token was validated
		log.Debug().Int64("run_id", runID).Msg("Dropped late progress report")
	case err != nil:
		log.Error().Err(err).Int64("run_id", runID).Msg("Could not append progress")
		internalFailure(w)
		return
	}

	serveJson(w, statusResponse{Status: statusSuccess})
}

func (t *WorkerRouter) reportUpload(w http.ResponseWriter, r *http.Request, runID int64) {
	artifact := models.Artifact{
		Name:   strings.TrimSpace(r.PostForm.Get("name")),
		SHA256: strings.ToLower(strings.TrimSpace(r.PostForm.Get("sha256"))),
	}
	if size := r.PostForm.Get("size"); size != "" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			reject(w)
			return
		}
		artifact.SizeBytes = n
	}

	completion, err := t.svc.CompleteUpload(r.Context(), runID, artifact)
	switch {
	case errors.Is(err, ci.ErrValidation), errors.Is(err, ci.ErrNotFound):
		reject(w)
		return
	case err != nil:
		// consistency violations are already logged by the service
		internalFailure(w)
		return
	}

	log.Info().
		Int64("run_id", runID).
		Str("pool", string(completion.Pool)).
		Bool("already_finished", completion.AlreadyFinished).
		Str("artifact", artifact.Name).
		Msg("Run upload reported")
	serveJson(w, statusResponse{Status: statusSuccess})
}

func (t *WorkerRouter) Fetch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		reject(w)
		return
	}
	token := strings.TrimSpace(r.PostForm.Get("token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(TokenHeader))
	}

	result, err := t.svc.Fetch(r.Context(), token)
	if err != nil {
		if !errors.Is(err, ci.ErrNotFound) {
			log.Error().Err(err).Msg("Could not fetch run")
		}
		reject(w)
		return
	}

	serveJson(w, FetchResponse{Status: statusSuccess, FetchResult: result})
}
