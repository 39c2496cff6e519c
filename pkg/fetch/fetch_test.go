package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPProviderFetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	p := NewHTTPProvider()
	body, notModified, err := p.Open(context.Background(), srv.URL, time.Time{})
	require.NoError(t, err)
	require.False(t, notModified)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestHTTPProviderNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	p := NewHTTPProvider()
	body, notModified, err := p.Open(context.Background(), srv.URL, time.Now())
	require.NoError(t, err)
	require.True(t, notModified)
	require.Nil(t, body)
}

func TestHTTPProviderSendsIfModifiedSinceHeader(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("If-Modified-Since")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewHTTPProvider()
	body, _, err := p.Open(context.Background(), srv.URL, when)
	require.NoError(t, err)
	body.Close()
	require.Equal(t, when.Format(http.TimeFormat), gotHeader)
}

func TestHTTPProviderPermanentErrorOnNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := &HTTPProvider{MaxRetries: 1, Timeout: 2 * time.Second}
	_, _, err := p.Open(context.Background(), srv.URL, time.Time{})
	require.Error(t, err)
}

func TestHTTPProviderRetriesOnServerError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	p := &HTTPProvider{MaxRetries: 3, Timeout: 5 * time.Second}
	body, notModified, err := p.Open(context.Background(), srv.URL, time.Time{})
	require.NoError(t, err)
	require.False(t, notModified)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "recovered", string(data))
	require.GreaterOrEqual(t, attempts, 2)
}

func TestHTTPProviderSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := &HTTPProvider{Token: "sekret", MaxRetries: 1, Timeout: 2 * time.Second}
	body, _, err := p.Open(context.Background(), srv.URL, time.Time{})
	require.NoError(t, err)
	body.Close()
	require.Equal(t, "token sekret", gotAuth)
}
