package spotify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// tokenSource hands out bearer tokens to the oauth2 transport. With refresh
// credentials, tokens carrying an expiry are renewed shortly before they
// lapse, and a token the API rejects can be dropped so the next request
// fetches a fresh one.
type tokenSource struct {
	ctx  context.Context
	conf *oauth2.Config // nil for a fixed token

	mu           sync.Mutex
	refreshToken string
	src          oauth2.TokenSource
}

var _ oauth2.TokenSource = (*tokenSource)(nil)

func newTokenSource(ctx context.Context, cfg Config) *tokenSource {
	ts := &tokenSource{ctx: ctx, refreshToken: cfg.RefreshToken}
	initial := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cfg.RefreshToken,
	}

	if cfg.RefreshToken == "" || cfg.ClientID == "" {
		ts.src = oauth2.StaticTokenSource(initial)
		return ts
	}

	ts.conf = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	// an empty access token is refreshed on first use
	ts.src = ts.conf.TokenSource(ctx, initial)
	return ts
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken != "" {
		ts.refreshToken = tok.RefreshToken
	}
	return tok, nil
}

// invalidate drops the cached access token. It reports false when there is
// nothing to refresh with.
func (ts *tokenSource) invalidate() bool {
	if ts.conf == nil {
		return false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.src = ts.conf.TokenSource(ts.ctx, &oauth2.Token{RefreshToken: ts.refreshToken})

	log.Info().Msg("spotify access token rejected, refreshing")
	return true
}
