package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/d-kuro/sessionclient/pkg/constants"
	"github.com/d-kuro/sessionclient/pkg/transport"
	"github.com/d-kuro/sessionclient/pkg/types"
)

// Exchange posts payload as JSON to an identity endpoint (login or refresh)
// and decodes the token response. It uses the raw transport, so a 401 from
// the endpoint is returned as is and never triggers a refresh.
func Exchange(ctx context.Context, doer Doer, path string, payload any) (*types.TokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := doer.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
	}, nil)
	if err != nil {
		return nil, err
	}

	var tokens types.TokenResponse
	if err := resp.DecodeJSON(&tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenResponse, err)
	}
	if err := validateTokenResponse(&tokens); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenResponse, err)
	}
	return &tokens, nil
}

// validateTokenResponse checks the tokens before they are stored and later
// written into request headers.
func validateTokenResponse(tokens *types.TokenResponse) error {
	if tokens.AccessToken == "" {
		return fmt.Errorf("access token is empty")
	}
	if err := validateTokenValue("access token", tokens.AccessToken); err != nil {
		return err
	}
	if tokens.RefreshToken != "" {
		if err := validateTokenValue("refresh token", tokens.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

func validateTokenValue(name, value string) error {
	if len(value) > constants.MaxTokenLength {
		return fmt.Errorf("%s too long", name)
	}
	if strings.ContainsAny(value, "\x00\r\n") {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}
