package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"poputka/internal/logging"
	"poputka/internal/models"
)

const maxErrorBody = 512

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the chat server's REST endpoints.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	log     *zap.Logger
}

func New(config Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL: u,
		token:   config.Token,
		http:    httpClient,
		log:     logging.OrNop(config.Logger).With(zap.String("component", "client")),
	}, nil
}

// BaseURL returns the server root the client was configured with.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

func (c *Client) Token() string {
	return c.token
}

// Partners lists the users that share a thread with userID.
func (c *Client) Partners(ctx context.Context, userID string) ([]models.PartnerEntry, error) {
	var entries []models.PartnerEntry
	q := url.Values{"userId": {userID}}
	if err := c.do(ctx, http.MethodGet, "/api/chats/partners", q, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// History returns the full thread between userID and partnerID.
func (c *Client) History(ctx context.Context, userID, partnerID string) ([]models.Message, error) {
	var wire []models.WireMessage
	q := url.Values{"senderId": {userID}, "receiverId": {partnerID}}
	if err := c.do(ctx, http.MethodGet, "/api/chats", q, nil, &wire); err != nil {
		return nil, err
	}
	return models.MessagesFromWire(wire), nil
}

// Send persists a message and returns its server id and timestamp.
func (c *Client) Send(ctx context.Context, req models.SendRequest) (models.SendResponse, error) {
	var resp models.SendResponse
	if err := c.do(ctx, http.MethodPost, "/api/chats", nil, req, &resp); err != nil {
		return models.SendResponse{}, err
	}
	return resp, nil
}

// DisplayName resolves a user's public name.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, nil, &user); err != nil {
		return "", err
	}
	return user.DisplayName, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.NetworkError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &models.ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ServerError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("invalid response body: %v", err)}
	}
	return nil
}
