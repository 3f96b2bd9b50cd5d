package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/m3rciful/privybot/core/graphapi"
)

// GraphAuthority validates and exchanges tokens through the Graph API
// debug_token and oauth/access_token endpoints.
type GraphAuthority struct {
	BaseURL   string
	Version   string
	AppID     string
	AppSecret string
	Client    *http.Client
}

type debugResponse struct {
	Data struct {
		IsValid   bool  `json:"is_valid"`
		ExpiresAt int64 `json:"expires_at"`
	} `json:"data"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Debug inspects token with the app access token.
func (a *GraphAuthority) Debug(ctx context.Context, token string) (Validation, error) {
	var out debugResponse
	query := url.Values{
		"input_token":  {token},
		"access_token": {a.AppID + "|" + a.AppSecret},
	}
	if err := graphapi.Get(ctx, a.Client, graphapi.Endpoint(a.BaseURL, a.Version, "debug_token"), query, &out); err != nil {
		return Validation{}, fmt.Errorf("debug token: %w", err)
	}
	v := Validation{Valid: out.Data.IsValid}
	if out.Data.ExpiresAt > 0 {
		v.ExpiresAt = time.Unix(out.Data.ExpiresAt, 0)
	}
	return v, nil
}

// Exchange trades token for a long-lived one.
func (a *GraphAuthority) Exchange(ctx context.Context, token string) (Exchange, error) {
	var out exchangeResponse
	query := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {a.AppID},
		"client_secret":     {a.AppSecret},
		"fb_exchange_token": {token},
	}
	if err := graphapi.Get(ctx, a.Client, graphapi.Endpoint(a.BaseURL, a.Version, "oauth", "access_token"), query, &out); err != nil {
		return Exchange{}, fmt.Errorf("exchange token: %w", err)
	}
	return Exchange{
		AccessToken: out.AccessToken,
		ExpiresIn:   time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}
