package api_test

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"regci/internal/api"
	"regci/internal/ci"
	"regci/internal/models"
)

func reportRequest(token string, form url.Values) *http.Request {
	req := formRequest("/api/worker/report", form)
	if token != "" {
		req.Header.Set(api.TokenHeader, token)
	}
	return req
}

func assertRejected(t *testing.T, code int, body map[string]string) {
	t.Helper()
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, map[string]string{"status": "failed"}, body)
}

func TestReport_Rejections(t *testing.T) {
	t.Run("missing token header", func(t *testing.T) {
		server, _ := newTestServer(t)
		rr := do(server, reportRequest("", url.Values{"type": {"progress"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
	})

	t.Run("unknown or finished token", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "stale").Return(int64(0), ci.ErrNotFound)

		rr := do(server, reportRequest("stale", url.Values{"type": {"progress"}, "status": {"info"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
		svc.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown report type", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)

		rr := do(server, reportRequest("tok", url.Values{"type": {"results"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
		svc.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		svc.AssertNotCalled(t, "CompleteUpload", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown progress status", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)

		rr := do(server, reportRequest("tok", url.Values{"type": {"progress"}, "status": {"exploded"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
	})

	t.Run("database failure looks the same as a bad token", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(0), errors.New("connection refused"))

		rr := do(server, reportRequest("tok", url.Values{"type": {"progress"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
	})
}

func TestReport_Progress(t *testing.T) {
	t.Run("appended", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)
		svc.On("Append", mock.Anything, int64(5), models.PsTesting, "running suite").Return(nil)

		rr := do(server, reportRequest("tok", url.Values{
			"type":    {"progress"},
			"status":  {"testing"},
			"message": {"running suite"},
		}))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "success", decode[map[string]string](t, rr)["status"])
	})

	t.Run("late report after completion still succeeds", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)
		svc.On("Append", mock.Anything, int64(5), models.PsInfo, "late").Return(ci.ErrNotFound)

		rr := do(server, reportRequest("tok", url.Values{
			"type":    {"progress"},
			"status":  {"info"},
			"message": {"late"},
		}))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "success", decode[map[string]string](t, rr)["status"])
	})
}

func TestReport_Upload(t *testing.T) {
	t.Run("completes the run with artifact metadata", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)
		svc.On("CompleteUpload", mock.Anything, int64(5), models.Artifact{
			Name:      "results.xml",
			SHA256:    "abcdef",
			SizeBytes: 2048,
		}).Return(ci.Completion{RunID: 5, Pool: models.PoolLocal}, nil)

		rr := do(server, reportRequest("tok", url.Values{
			"type":   {"upload"},
			"name":   {"results.xml"},
			"sha256": {"ABCDEF"},
			"size":   {"2048"},
		}))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "success", decode[map[string]string](t, rr)["status"])
	})

	t.Run("invalid size", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)

		rr := do(server, reportRequest("tok", url.Values{"type": {"upload"}, "name": {"x"}, "size": {"-1"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
	})

	t.Run("consistency violation is an internal failure", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("ValidateToken", mock.Anything, "tok").Return(int64(5), nil)
		svc.On("CompleteUpload", mock.Anything, int64(5), mock.Anything).
			Return(ci.Completion{}, ci.ErrConsistencyViolation)

		rr := do(server, reportRequest("tok", url.Values{"type": {"upload"}, "name": {"x"}}))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "failed", decode[map[string]string](t, rr)["status"])
	})
}

func TestFetch(t *testing.T) {
	t.Run("token in form", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("Fetch", mock.Anything, "tok").Return(&ci.FetchResult{
			Token:     "tok",
			Branch:    "main",
			Commit:    "abc123",
			LocalPath: null.StringFrom("/data/Y"),
		}, nil)

		rr := do(server, formRequest("/api/worker/fetch", url.Values{"token": {"tok"}}))
		require.Equal(t, http.StatusOK, rr.Code)

		body := decode[map[string]any](t, rr)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "tok", body["token"])
		assert.Equal(t, "main", body["branch"])
		assert.Equal(t, "abc123", body["commit"])
		assert.Equal(t, "/data/Y", body["localPath"])
		assert.NotContains(t, body, "id")
	})

	t.Run("token in header, no local path", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("Fetch", mock.Anything, "tok").Return(&ci.FetchResult{Token: "tok", Branch: "dev", Commit: "def"}, nil)

		req := formRequest("/api/worker/fetch", url.Values{})
		req.Header.Set(api.TokenHeader, "tok")
		rr := do(server, req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, decode[map[string]any](t, rr)["localPath"])
	})

	t.Run("unknown token", func(t *testing.T) {
		server, svc := newTestServer(t)
		svc.On("Fetch", mock.Anything, "nope").Return(nil, ci.ErrNotFound)

		rr := do(server, formRequest("/api/worker/fetch", url.Values{"token": {"nope"}}))
		assertRejected(t, rr.Code, decode[map[string]string](t, rr))
	})
}
