package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamgate/internal/core/ports"
)

func TestSender_PostsBodyAndHeaders(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSender(nil, 0, 0)
	status, err := s.Send(context.Background(), ports.WebhookRequest{
		URL:     srv.URL,
		Headers: map[string]string{"X-Event-Type": "stream.live", "Content-Type": "application/json"},
		Body:    []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, `{"a":1}`, string(gotBody))
	assert.Equal(t, "stream.live", gotHeader.Get("X-Event-Type"))
}

func TestSender_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	status, err := NewSender(nil, 0, 0).Send(context.Background(), ports.WebhookRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, status)
}

func TestSender_TransportErrorAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	status, err := NewSender(nil, 0, 0).Send(ctx, ports.WebhookRequest{URL: srv.URL})
	assert.Error(t, err)
	assert.Zero(t, status)
}

func TestSender_PerHostPacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := NewSender(nil, 1, 1)
	_, err := s.Send(context.Background(), ports.WebhookRequest{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Send(ctx, ports.WebhookRequest{URL: srv.URL})
	assert.Error(t, err, "second request within the same second must wait beyond the deadline")
}
