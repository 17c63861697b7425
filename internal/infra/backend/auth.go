package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/agrovision/cropscan/internal/domain"
)

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			Name      string `json:"name"`
			AvatarURL string `json:"avatar_url"`
		} `json:"user_metadata"`
	} `json:"user"`
}

func (r authResponse) pair() domain.TokenPair {
	return domain.TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

func (r authResponse) identity() domain.Identity {
	return domain.Identity{
		UserID:    r.User.ID,
		Email:     r.User.Email,
		Name:      r.User.Metadata.Name,
		AvatarURL: r.User.Metadata.AvatarURL,
	}
}

func (c *Client) grantToken(ctx context.Context, grant string, body any) (domain.TokenPair, domain.Identity, error) {
	q := url.Values{}
	q.Set("grant_type", grant)

	// Token endpoints always authenticate with the anon key; a session
	// token is exactly what we are here to replace.
	data, err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, body, false, nil)
	if err != nil {
		return domain.TokenPair{}, domain.Identity{}, err
	}

	var ar authResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return domain.TokenPair{}, domain.Identity{}, fmt.Errorf("decode auth response: %w", err)
	}
	if ar.AccessToken == "" {
		return domain.TokenPair{}, domain.Identity{}, fmt.Errorf("auth response without access token")
	}

	return ar.pair(), ar.identity(), nil
}

// SignInWithPassword exchanges email credentials for a token pair.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (domain.TokenPair, domain.Identity, error) {
	return c.grantToken(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
}

// RefreshToken rotates the token pair. The old refresh token is consumed
// by the call whether it succeeds or not.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, domain.Identity, error) {
	return c.grantToken(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// SignUp registers a new user. Depending on backend settings the response
// may or may not carry a usable session.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (domain.TokenPair, domain.Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": name},
	}

	data, err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, body, false, nil)
	if err != nil {
		return domain.TokenPair{}, domain.Identity{}, err
	}

	var ar authResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return domain.TokenPair{}, domain.Identity{}, fmt.Errorf("decode signup response: %w", err)
	}

	return ar.pair(), ar.identity(), nil
}
