package broker

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"zerodha-copier/internal/errors"
	"zerodha-copier/pkg/utils"
)

// ErrTokenNotFound is returned when no access token is stored for today.
var ErrTokenNotFound = errors.New("no stored access token for today")

// TokenStore persists one access token per account per trading day as
// <dir>/<account>_<YYYY-MM-DD>.json holding a JSON string, the layout the
// legacy AccessToken folder used.
type TokenStore struct {
	dir string
	now func() time.Time
}

// NewTokenStore creates a store rooted at dir.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir, now: time.Now}
}

// Dir returns the token directory.
func (s *TokenStore) Dir() string {
	return s.dir
}

// Path returns today's token file for accountID.
func (s *TokenStore) Path(accountID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", accountID, utils.TradingDate(s.now())))
}

// Load returns today's token for accountID.
func (s *TokenStore) Load(accountID string) (string, error) {
	data, err := os.ReadFile(s.Path(accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		// Older files may hold the bare token.
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// Save writes today's token for accountID with owner-only permissions.
func (s *TokenStore) Save(accountID, token string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path(accountID), data, 0600)
}

// Accounts lists the account ids holding a token for today.
func (s *TokenStore) Accounts() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	suffix := "_" + utils.TradingDate(s.now()) + ".json"
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, suffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// RequestTokenFromURL extracts request_token from a Kite login redirect URL.
// A bare token is accepted as is.
func RequestTokenFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "none") {
		return "", false
	}
	if !strings.Contains(raw, "request_token=") {
		if strings.ContainsAny(raw, "/?&=:") {
			return "", false
		}
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	token := u.Query().Get("request_token")
	return token, token != ""
}
