package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"zerodha-copier/internal/errors"
)

// DefaultKiteWebURL is the Kite web login host.
const DefaultKiteWebURL = "https://kite.zerodha.com"

// AutoLoginCredentials are the web login credentials of one account.
type AutoLoginCredentials struct {
	AccountID  string `mapstructure:"account_id"`
	Password   string `mapstructure:"password"`
	TOTPSecret string `mapstructure:"totp_secret"`
}

// AutoLogin drives the Kite web login with a TOTP second factor to obtain a
// request token without a browser.
type AutoLogin struct {
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

// NewAutoLogin creates an AutoLogin against baseURL, or the Kite web host
// when empty.
func NewAutoLogin(baseURL string) *AutoLogin {
	if baseURL == "" {
		baseURL = DefaultKiteWebURL
	}
	return &AutoLogin{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 20 * time.Second,
		now:     time.Now,
	}
}

type kiteWebResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RequestID string `json:"request_id"`
		UserID    string `json:"user_id"`
	} `json:"data"`
}

// RequestToken logs in and returns the request_token from the final
// redirect of the Connect login flow.
func (a *AutoLogin) RequestToken(ctx context.Context, apiKey string, creds AutoLoginCredentials) (string, error) {
	if creds.AccountID == "" || creds.Password == "" || creds.TOTPSecret == "" {
		return "", fmt.Errorf("%w: incomplete auto-login credentials", errors.ErrConfiguration)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", err
	}
	var requestToken string
	client := &http.Client{
		Jar:     jar,
		Timeout: a.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if t := req.URL.Query().Get("request_token"); t != "" {
				requestToken = t
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	connectURL := fmt.Sprintf("%s/connect/login?v=3&api_key=%s", a.baseURL, url.QueryEscape(apiKey))
	if err := a.get(ctx, client, connectURL); err != nil {
		return "", fmt.Errorf("%w: open login page: %v", errors.ErrAuthentication, err)
	}
	if requestToken != "" {
		return requestToken, nil
	}

	login, err := a.post(ctx, client, "/api/login", url.Values{
		"user_id":  {creds.AccountID},
		"password": {creds.Password},
	})
	if err != nil {
		return "", fmt.Errorf("%w: password step: %v", errors.ErrAuthentication, err)
	}

	code, err := totp.GenerateCode(creds.TOTPSecret, a.now())
	if err != nil {
		return "", fmt.Errorf("%w: invalid totp secret: %v", errors.ErrConfiguration, err)
	}
	if _, err := a.post(ctx, client, "/api/twofa", url.Values{
		"user_id":     {creds.AccountID},
		"request_id":  {login.Data.RequestID},
		"twofa_value": {code},
		"twofa_type":  {"totp"},
		"skip_totp":   {"true"},
	}); err != nil {
		return "", fmt.Errorf("%w: totp step: %v", errors.ErrAuthentication, err)
	}

	if err := a.get(ctx, client, connectURL+"&skip_session=true"); err != nil && requestToken == "" {
		return "", fmt.Errorf("%w: authorize step: %v", errors.ErrAuthentication, err)
	}
	if requestToken == "" {
		return "", fmt.Errorf("%w: login completed without a request token; authorize the app once in a browser", errors.ErrAuthentication)
	}
	return requestToken, nil
}

func (a *AutoLogin) get(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return nil
}

func (a *AutoLogin) post(ctx context.Context, client *http.Client, path string, form url.Values) (*kiteWebResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", "3")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out kiteWebResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	if resp.StatusCode >= 400 || out.Status != "success" {
		return nil, fmt.Errorf("POST %s: %s", path, out.Message)
	}
	return &out, nil
}
