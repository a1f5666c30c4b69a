package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	apperrors "grid_trader/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSigner struct {
	calls atomic.Int64
}

func (s *countingSigner) PrepareForm(form url.Values) {
	form.Set("nonce", strconv.FormatInt(s.calls.Add(1), 10))
}

func (s *countingSigner) SignRequest(req *http.Request, body []byte) error {
	req.Header.Set("X-Signed-Body", string(body))
	return nil
}

type failingSigner struct{}

func (failingSigner) SignRequest(req *http.Request, body []byte) error {
	return errors.New("no key")
}

func TestHttpClient_Retry(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	body, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, int64(3), attempts.Load())
}

func TestHttpClient_SignsEveryAttempt(t *testing.T) {
	var nonces []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, r.PostForm.Encode(), r.Header.Get("X-Signed-Body"))
		nonces = append(nonces, r.PostForm.Get("nonce"))
		if len(nonces) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	signer := &countingSigner{}
	client := NewClient(server.URL, 5*time.Second, signer)
	_, err := client.PostForm(context.Background(), "/0/private/Balance", url.Values{"pair": {"XETHZUSD"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, nonces)
}

func TestHttpClient_NoRetry(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	_, err := client.PostForm(context.Background(), "/order", url.Values{}, NoRetry())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Equal(t, int64(1), attempts.Load())
}

func TestHttpClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, apperrors.ErrAuthenticationFailed},
		{http.StatusForbidden, apperrors.ErrPermissionDenied},
		{http.StatusTooManyRequests, apperrors.ErrRateLimitExceeded},
	}

	for _, tt := range tests {
		err := error(&APIError{StatusCode: tt.status})
		assert.ErrorIs(t, err, tt.want)
	}
	assert.Nil(t, (&APIError{StatusCode: http.StatusBadRequest}).Unwrap())
}

func TestHttpClient_SignerErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, failingSigner{})
	_, err := client.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key")
	assert.False(t, errors.Is(err, apperrors.ErrNetwork))
	assert.Equal(t, int64(0), attempts.Load())
}

func TestHttpClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		raw, _ := io.ReadAll(r.Body)
		var payload map[string]string
		assert.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, "hello", payload["text"])
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", 5*time.Second, nil)
	body, err := client.PostJSON(context.Background(), "/hook", map[string]string{"text": "hello"}, WithHeader("X-Test", "yes"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestHttpClient_CircuitBreaker(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)

	// 5 failures out of 10 opens the breaker
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}

	startAttempts := attempts.Load()
	_, err := client.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Equal(t, startAttempts, attempts.Load(), "server reached while the circuit is open")
}
