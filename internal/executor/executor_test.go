package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAction() *models.Action {
	return &models.Action{
		ID:         "act-1",
		Type:       models.ActionScale,
		Target:     models.Target{Kind: "deployment", Name: "checkout", Scope: "prod"},
		Parameters: map[string]string{"replicas": "5"},
	}
}

func TestHTTPBackend_Success(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/actions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "act-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"succeeded":true,"output":"scaled to 5"}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "secret", time.Second)
	out, err := b.Execute(context.Background(), testAction())
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, "scaled to 5", out.Output)
	assert.Equal(t, "scale", got.Type)
	assert.Equal(t, "5", got.Parameters["replicas"])
}

func TestHTTPBackend_ReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"succeeded":false,"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	out, err := NewHTTPBackend(srv.URL, "", time.Second).Execute(context.Background(), testAction())
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	assert.Equal(t, "quota exceeded", out.Error)
}

func TestHTTPBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPBackend(url, "", time.Second).Execute(context.Background(), testAction())
	assert.True(t, errors.Is(err, apperr.ErrBackendUnavailable))
}

func TestDryRun(t *testing.T) {
	b := NewDryRunBackend()
	out, err := b.Execute(context.Background(), testAction())
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	assert.Equal(t, "dry-run: would scale deployment checkout in prod (replicas=5)", out.Output)

	b.FailOn(models.ActionScale, "no capacity")
	out, _ = b.Execute(context.Background(), testAction())
	assert.False(t, out.Succeeded)
	assert.Equal(t, "no capacity", out.Error)
	assert.Len(t, b.Executed(), 2)
}

func TestNew(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "dry-run", b.Kind())

	_, err = New(Config{Kind: "http"})
	assert.Error(t, err)

	_, err = New(Config{Kind: "ssh"})
	assert.Error(t, err)
}
