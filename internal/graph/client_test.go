package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"u1"}`)
	}))
	defer srv.Close()

	client := NewClient("secret-token", WithBaseURL(srv.URL))
	_, err := client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestClientParsesGraphErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired."}}`)
	}))
	defer srv.Close()

	client := NewClient("expired", WithBaseURL(srv.URL))
	_, err := client.Me(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "InvalidAuthenticationToken", apiErr.Code)
	assert.Equal(t, "Access token has expired.", apiErr.Message)
	assert.True(t, apiErr.IsAuthError())
}

func TestClientUnparseableErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	client := NewClient("token", WithBaseURL(srv.URL))
	_, err := client.Me(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
	assert.False(t, apiErr.IsAuthError())
}

func TestAPIErrorIsAuthError(t *testing.T) {
	tests := []struct {
		status int
		auth   bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.status}
		assert.Equal(t, tt.auth, err.IsAuthError(), "status %d", tt.status)
	}
}

func TestClientTransportErrorIsNotAPIError(t *testing.T) {
	// A connection failure must not look like an authorization failure.
	client := NewClient("token", WithBaseURL("http://127.0.0.1:1"))
	_, err := client.Me(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
