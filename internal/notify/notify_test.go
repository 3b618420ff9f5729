package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoneNeverErrors(t *testing.T) {
	var n None
	require.NoError(t, n.Notify(context.Background(), "evaluation", map[string]string{"issue": "1"}))
}

func TestWebhookPostsJSONPayload(t *testing.T) {
	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Argus-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.Notify(context.Background(), "pr-created", map[string]string{"pr_url": "https://example.invalid/pr/1"})
	require.NoError(t, err)
	require.Equal(t, "pr-created", gotEvent)
}

func TestWebhookReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	err := w.Notify(context.Background(), "threat-detected", nil)
	require.Error(t, err)
}
