package broker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/security"
)

// ZerodhaConnector opens Kite sessions for registry accounts. It tries, in
// order: today's stored token, the request token in the account's request
// URL, then TOTP auto-login when credentials are configured.
type ZerodhaConnector struct {
	tokens    *TokenStore
	autoLogin *AutoLogin
	creds     map[string]AutoLoginCredentials
	logger    zerolog.Logger
	newClient func(apiKey string) *kiteconnect.Client
}

// NewZerodhaConnector creates a connector. creds may be nil.
func NewZerodhaConnector(tokens *TokenStore, autoLogin *AutoLogin, creds []AutoLoginCredentials, logger zerolog.Logger) *ZerodhaConnector {
	byID := make(map[string]AutoLoginCredentials, len(creds))
	for _, c := range creds {
		byID[c.AccountID] = c
	}
	return &ZerodhaConnector{
		tokens:    tokens,
		autoLogin: autoLogin,
		creds:     byID,
		logger:    logger,
		newClient: newKiteClient,
	}
}

// Connect returns an authenticated gateway for acct.
func (c *ZerodhaConnector) Connect(ctx context.Context, acct models.Account) (Gateway, error) {
	if !acct.HasCredentials() {
		return nil, errors.NewAccountError(acct.ID, "connect",
			fmt.Errorf("%w: missing kite id, api key or api secret", errors.ErrConfiguration))
	}
	log := logging.WithAccount(c.logger, acct.ID)
	client := c.newClient(acct.APIKey)

	if token, err := c.tokens.Load(acct.ID); err == nil {
		client.SetAccessToken(token)
		_, err := client.GetUserProfile()
		if err == nil {
			log.Debug().Str("token", security.MaskCredential(token)).Msg("Using stored access token")
			return NewZerodhaGateway(client, acct.ID, c.logger), nil
		}
		log.Warn().Err(err).Msg("Stored access token rejected")
	}

	if requestToken, ok := RequestTokenFromURL(acct.RequestURL); ok {
		err := c.exchange(client, acct, requestToken)
		if err == nil {
			log.Info().Msg("Session generated from request URL")
			return NewZerodhaGateway(client, acct.ID, c.logger), nil
		}
		log.Warn().Err(err).Msg("Request token from registry could not be exchanged")
	}

	if creds, ok := c.creds[acct.ID]; ok && c.autoLogin != nil {
		requestToken, err := c.autoLogin.RequestToken(ctx, acct.APIKey, creds)
		if err == nil {
			err = c.exchange(client, acct, requestToken)
		}
		if err == nil {
			log.Info().Msg("Session generated by auto-login")
			return NewZerodhaGateway(client, acct.ID, c.logger), nil
		}
		log.Warn().Err(err).Msg("Auto-login failed")
	}

	return nil, errors.NewAccountError(acct.ID, "connect", fmt.Errorf(
		"%w: no valid session; log in at %s and update the request URL",
		errors.ErrAuthentication, client.GetLoginURL()))
}

// CompleteLogin exchanges a request token (or a redirect URL carrying one)
// and persists the resulting access token.
func (c *ZerodhaConnector) CompleteLogin(ctx context.Context, acct models.Account, requestURL string) error {
	if !acct.HasCredentials() {
		return errors.NewAccountError(acct.ID, "login", fmt.Errorf("%w: missing credentials", errors.ErrConfiguration))
	}
	requestToken, ok := RequestTokenFromURL(requestURL)
	if !ok {
		return errors.NewAccountError(acct.ID, "login", fmt.Errorf("%w: no request_token in %q", errors.ErrAuthentication, requestURL))
	}
	return c.exchange(c.newClient(acct.APIKey), acct, requestToken)
}

// LoginURL returns the Kite Connect login URL for acct.
func (c *ZerodhaConnector) LoginURL(acct models.Account) string {
	return c.newClient(acct.APIKey).GetLoginURL()
}

func (c *ZerodhaConnector) exchange(client *kiteconnect.Client, acct models.Account, requestToken string) error {
	session, err := client.GenerateSession(requestToken, acct.APISecret)
	if err != nil {
		return fmt.Errorf("%w: failed to generate session: %v", errors.ErrAuthentication, err)
	}
	client.SetAccessToken(session.AccessToken)
	if err := c.tokens.Save(acct.ID, session.AccessToken); err != nil {
		log := logging.WithAccount(c.logger, acct.ID)
		log.Warn().Err(err).Msg("Failed to persist access token")
	}
	return nil
}
