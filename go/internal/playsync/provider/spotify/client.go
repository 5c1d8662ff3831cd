package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

const (
	// DefaultBaseURL is the Spotify Web API root
	DefaultBaseURL = "https://api.spotify.com"
	// DefaultTokenURL is the accounts service token endpoint
	DefaultTokenURL = "https://accounts.spotify.com/api/token"
	// DefaultTimeout bounds a single Web API call including any token refresh
	DefaultTimeout = 10 * time.Second
)

// Config holds the credentials for one Spotify account. With RefreshToken and
// ClientID set, expired or rejected access tokens are refreshed against
// TokenURL; otherwise AccessToken is used as given.
type Config struct {
	BaseURL      string
	TokenURL     string
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client drives a Spotify account's active device through the Web API
type Client struct {
	*BaseClient
	tokens *tokenSource
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a Spotify provider. Empty URLs and a zero Timeout select
// the package defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})
	tokens := newTokenSource(tokenCtx, cfg)

	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
	}
	client := &Client{
		BaseClient: NewBaseClient(cfg.BaseURL, httpClient),
		tokens:     tokens,
	}
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")
	return client
}

// do sends the request, refreshing the access token and retrying once when
// the API answers 401.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte) (int, []byte, error) {
	status, resp, err := c.MakeRequest(ctx, op, method, endpoint, bodyReader(body))
	if status == http.StatusUnauthorized && errors.Is(err, provider.ErrAuthExpired) && c.tokens.invalidate() {
		return c.MakeRequest(ctx, op, method, endpoint, bodyReader(body))
	}
	return status, resp, err
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

type playbackItem struct {
	URI string `json:"uri"`
}

type playbackResponse struct {
	IsPlaying  bool          `json:"is_playing"`
	ProgressMs int64         `json:"progress_ms"`
	Item       *playbackItem `json:"item"`
}

type playRequest struct {
	URIs       []string `json:"uris"`
	PositionMs int64    `json:"position_ms"`
}

// GetCurrentPlayback returns the active device's state. A 204 response or a
// missing item yields an empty Playback.
func (c *Client) GetCurrentPlayback(ctx context.Context) (provider.Playback, error) {
	status, body, err := c.do(ctx, "get playback", http.MethodGet, "/v1/me/player", nil)
	if err != nil {
		return provider.Playback{}, err
	}
	if status == http.StatusNoContent || len(body) == 0 {
		return provider.Playback{}, nil
	}

	var resp playbackResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.Playback{}, fmt.Errorf("failed to unmarshal playback: %w", err)
	}

	pb := provider.Playback{
		IsPlaying:  resp.IsPlaying,
		PositionMs: resp.ProgressMs,
	}
	if resp.Item != nil {
		pb.TrackURI = resp.Item.URI
	}
	return pb, nil
}

// StartPlayback plays trackURI starting at positionMs in a single call
func (c *Client) StartPlayback(ctx context.Context, trackURI string, positionMs int64) error {
	body, err := json.Marshal(playRequest{URIs: []string{trackURI}, PositionMs: positionMs})
	if err != nil {
		return fmt.Errorf("failed to marshal play request: %w", err)
	}
	_, _, err = c.do(ctx, "start playback", http.MethodPut, "/v1/me/player/play", body)
	return err
}

// Seek moves the current item to positionMs
func (c *Client) Seek(ctx context.Context, positionMs int64) error {
	q := url.Values{}
	q.Set("position_ms", strconv.FormatInt(positionMs, 10))
	_, _, err := c.do(ctx, "seek", http.MethodPut, "/v1/me/player/seek?"+q.Encode(), nil)
	return err
}

// Resume continues the current item from where it is
func (c *Client) Resume(ctx context.Context) error {
	_, _, err := c.do(ctx, "resume", http.MethodPut, "/v1/me/player/play", nil)
	return err
}

// Pause pauses the current item
func (c *Client) Pause(ctx context.Context) error {
	_, _, err := c.do(ctx, "pause", http.MethodPut, "/v1/me/player/pause", nil)
	return err
}
