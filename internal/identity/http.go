package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider спрашивает пользователя у auth-шлюза: GET <url> c Authorization: Bearer.
// Ответ в формате шлюза: {"data":{"user":{"id":...}}}.
type HTTPProvider struct {
	url    string
	client *http.Client
}

func NewHTTPProvider(url string, timeout time.Duration) (*HTTPProvider, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("http provider: empty url")
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &HTTPProvider{url: url, client: &http.Client{Timeout: timeout}}, nil
}

type meEnvelope struct {
	Data struct {
		User struct {
			ID json.RawMessage `json:"id"`
		} `json:"user"`
	} `json:"data"`
}

func (p *HTTPProvider) Verify(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth lookup: unexpected status %d", resp.StatusCode)
	}

	var env meEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	return userIDString(env.Data.User.ID)
}

// userIDString принимает id и строкой, и числом (шлюз отдаёт int64).
func userIDString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("auth response: user id is missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("auth response: bad user id %s", raw)
	}
	return n.String(), nil
}
