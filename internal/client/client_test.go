package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poputka/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", Token: "secret"})
	require.NoError(t, err)
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost:8080"})
	require.Error(t, err)
}

func TestClient_Partners(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/chats/partners", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("userId"))
		assert.Equal(t, "secret", r.Header.Get("token"))
		// Ids come as numbers from some servers and strings from others.
		_, _ = w.Write([]byte(`[{"partnerId":42,"name":"Anna"},{"partnerId":"9"}]`))
	})

	entries, err := c.Partners(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, []models.PartnerEntry{
		{PartnerID: "42", Name: "Anna"},
		{PartnerID: "9"},
	}, entries)
}

func TestClient_History(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("senderId"))
		assert.Equal(t, "42", r.URL.Query().Get("receiverId"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "content": "hi", "senderId": 42, "receiverId": 7, "timestamp": ts},
		})
	})

	msgs, err := c.History(context.Background(), "7", "42")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.ServerID("1"), msgs[0].ID)
	require.Equal(t, "42", msgs[0].SenderID)
	require.Equal(t, "7", msgs[0].ReceiverID)
	require.Equal(t, models.DeliveryConfirmed, msgs[0].State)
	require.True(t, ts.Equal(msgs[0].Timestamp))
}

func TestClient_Send(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.SendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.SendRequest{SenderID: "7", ReceiverID: "42", Content: "Hello"}, req)

		_, _ = w.Write([]byte(`{"id":17,"timestamp":"2026-03-01T12:00:05Z"}`))
	})

	resp, err := c.Send(context.Background(), models.SendRequest{SenderID: "7", ReceiverID: "42", Content: "Hello"})
	require.NoError(t, err)
	require.Equal(t, models.WireID("17"), resp.ID)
	require.Equal(t, 5, resp.Timestamp.Second())
}

func TestClient_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database is down", http.StatusServiceUnavailable)
	})

	_, err := c.Partners(context.Background(), "7")
	var serverErr *models.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, http.StatusServiceUnavailable, serverErr.StatusCode)
	require.Equal(t, "database is down", serverErr.Body)
	require.False(t, errors.Is(err, models.ErrNetwork))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), models.SendRequest{SenderID: "7", ReceiverID: "42", Content: "Hello"})
	require.ErrorIs(t, err, models.ErrNetwork)
}

func TestClient_DisplayName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.User{ID: "42", DisplayName: "Anna", Role: models.RoleTraveler})
	})

	name, err := c.DisplayName(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "Anna", name)
}

func TestClient_InvalidBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := c.History(context.Background(), "7", "42")
	var serverErr *models.ServerError
	require.ErrorAs(t, err, &serverErr)
}
