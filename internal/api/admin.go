package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"regci/internal/ci"
	"regci/internal/models"
)

type AdminService interface {
	Abort(ctx context.Context, runID int64, messageTemplate string) error
	Remove(ctx context.Context, runID int64, isLocal bool, messageTemplate string) error
	ListVMQueue(ctx context.Context) ([]models.QueuedRun, error)
	ListLocalQueue(ctx context.Context) ([]models.QueuedRun, error)
	CommandHistory(ctx context.Context, limit int) ([]models.OutboxMessage, error)

	ListTrustedUsers(ctx context.Context) ([]models.TrustedUser, error)
	AddTrustedUser(ctx context.Context, handle string) (*models.TrustedUser, error)
	DeleteTrustedUser(ctx context.Context, id int64) error

	ListLocalRepositories(ctx context.Context) ([]models.LocalRepository, error)
	AddLocalRepository(ctx context.Context, repository, folder string) (*models.LocalRepository, error)
	DeleteLocalRepository(ctx context.Context, id int64) error
}

// requireAdmin checks for "Authorization: Bearer <token>"
func requireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				http.Error(w, "operator credentials required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type AdminRouter struct {
	svc    AdminService
	router chi.Router
}

func (t *AdminRouter) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	t.router.ServeHTTP(writer, request)
}

func NewAdminRouter(svc AdminService) *AdminRouter {
	r := &AdminRouter{
		svc:    svc,
		router: chi.NewRouter(),
	}
	r.router.Post("/runs/{runID}/abort", r.AbortRun)
	r.router.Post("/runs/{runID}/remove", r.RemoveRun)

	r.router.Get("/queue/vm", r.listQueue(svc.ListVMQueue))
	r.router.Get("/queue/local", r.listQueue(svc.ListLocalQueue))
	r.router.Get("/history", r.GetHistory)

	r.router.Get("/trusted-users", r.GetTrustedUsers)
	r.router.Post("/trusted-users", r.AddTrustedUser)
	r.router.Delete("/trusted-users/{id}", r.DeleteTrustedUser)

	r.router.Get("/local-repositories", r.GetLocalRepositories)
	r.router.Post("/local-repositories", r.AddLocalRepository)
	r.router.Delete("/local-repositories/{id}", r.DeleteLocalRepository)

	return r
}

// adminError answers with a message an operator can act on without exposing internals
func adminError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ci.ErrNotFound):
		http.Error(w, "could not "+action+": not found or already finished", http.StatusNotFound)
	case errors.Is(err, ci.ErrWrongPool):
		http.Error(w, "could not "+action+": the run is not in that queue", http.StatusConflict)
	case errors.Is(err, ci.ErrValidation):
		http.Error(w, "could not "+action+": "+err.Error(), http.StatusBadRequest)
	case errors.Is(err, ci.ErrConflict):
		http.Error(w, "could not "+action+": the run is busy, try again", http.StatusConflict)
	default:
		log.Error().Err(err).Str("action", action).Msg("Admin request failed")
		http.Error(w, "could not "+action, http.StatusInternalServerError)
	}
}

func (t *AdminRouter) AbortRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "runID")
	if !ok {
		return
	}
	var payload CancelRequest
	if err := readOptionalJson(w, r, &payload); err != nil {
		return
	}

	if err := t.svc.Abort(r.Context(), runID, payload.template(defaultAbortTemplate)); err != nil {
		adminError(w, err, "abort run")
		return
	}
	serveJson(w, statusResponse{Status: statusSuccess})
}

func (t *AdminRouter) RemoveRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathID(w, r, "runID")
	if !ok {
		return
	}
	var payload CancelRequest
	if err := readOptionalJson(w, r, &payload); err != nil {
		return
	}

	if err := t.svc.Remove(r.Context(), runID, payload.IsLocal, payload.template(defaultRemoveTemplate)); err != nil {
		adminError(w, err, "remove run")
		return
	}
	serveJson(w, statusResponse{Status: statusSuccess})
}

func (t *AdminRouter) listQueue(list func(context.Context) ([]models.QueuedRun, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := list(r.Context())
		if err != nil {
			adminError(w, err, "list queue")
			return
		}
		serveJson(w, runs)
	}
}

func (t *AdminRouter) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	messages, err := t.svc.CommandHistory(r.Context(), limit)
	if err != nil {
		adminError(w, err, "read command history")
		return
	}
	serveJson(w, messages)
}

func (t *AdminRouter) GetTrustedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := t.svc.ListTrustedUsers(r.Context())
	if err != nil {
		adminError(w, err, "list trusted users")
		return
	}
	serveJson(w, users)
}

func (t *AdminRouter) AddTrustedUser(w http.ResponseWriter, r *http.Request) {
	var payload TrustedUserRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}

	user, err := t.svc.AddTrustedUser(r.Context(), payload.Handle)
	if err != nil {
		adminError(w, err, "add trusted user")
		return
	}
	serveJsonStatus(w, http.StatusCreated, user)
}

func (t *AdminRouter) DeleteTrustedUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := t.svc.DeleteTrustedUser(r.Context(), id); err != nil {
		adminError(w, err, "delete trusted user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *AdminRouter) GetLocalRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := t.svc.ListLocalRepositories(r.Context())
	if err != nil {
		adminError(w, err, "list local repositories")
		return
	}
	serveJson(w, repos)
}

func (t *AdminRouter) AddLocalRepository(w http.ResponseWriter, r *http.Request) {
	var payload LocalRepositoryRequest
	if err := readJson(w, r, &payload); err != nil {
		return
	}
	if err := payload.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	repo, err := t.svc.AddLocalRepository(r.Context(), payload.Repository, payload.Folder)
	if err != nil {
		adminError(w, err, "add local repository")
		return
	}
	serveJsonStatus(w, http.StatusCreated, repo)
}

func (t *AdminRouter) DeleteLocalRepository(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := t.svc.DeleteLocalRepository(r.Context(), id); err != nil {
		adminError(w, err, "delete local repository")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
