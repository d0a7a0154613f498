package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benaskins/keyhold/internal/keychain"
)

// Client talks to a keyhold agent and implements keychain.Store, so the
// CLI can run the same commands locally or through the agent.
type Client struct {
	http *http.Client
	base string
}

var _ keychain.Store = (*Client)(nil)

// NewClient returns a client for the agent listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: noRedirect,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		base: "http://keyhold",
	}
}

// NewHTTPClient returns a client for an agent reachable at baseURL, e.g.
// one started with an API address.
func NewHTTPClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second, CheckRedirect: noRedirect}
	}
	return &Client{http: hc, base: baseURL}
}

// escapeKey encodes a key as a single path segment. Slashes are escaped
// so the server's path cleaning cannot merge or drop parts of the key,
// and the dot segments "." and ".." are escaped for the same reason.
func escapeKey(key string) string {
	switch key {
	case ".", "..":
		return strings.Repeat("%2E", len(key))
	}
	return url.PathEscape(key)
}

// noRedirect surfaces redirects as errors; following one would replay a
// write as a GET against another path.
func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func itemPath(key string) string {
	return "/v1/items/" + escapeKey(key)
}

func (c *Client) Set(key, value string) error {
	return c.put(key, Item{Value: value})
}

func (c *Client) SetData(key string, data []byte) error {
	return c.put(key, Item{Value: base64.StdEncoding.EncodeToString(data), Encoding: EncodingBase64})
}

func (c *Client) put(key string, item Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.do(http.MethodPut, itemPath(key), bytes.NewReader(body), nil)
}

func (c *Client) Get(key string) (string, error) {
	var item Item
	if err := c.do(http.MethodGet, itemPath(key), nil, &item); err != nil {
		return "", err
	}
	return item.Value, nil
}

func (c *Client) Data(key string) ([]byte, error) {
	var item Item
	if err := c.do(http.MethodGet, itemPath(key)+"?encoding="+EncodingBase64, nil, &item); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(item.Value)
	if err != nil {
		return nil, fmt.Errorf("decoding value of %q: %w", key, err)
	}
	return data, nil
}

func (c *Client) List() ([]string, error) {
	var resp struct {
		Keys []string `json:"keys"`
	}
	if err := c.do(http.MethodGet, "/v1/items", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

func (c *Client) Delete(key string) error {
	return c.do(http.MethodDelete, itemPath(key), nil, nil)
}

func (c *Client) Exists(key string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.do(http.MethodGet, "/v1/exists/"+escapeKey(key), nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *Client) GetMultiple(keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		val, err := c.Get(key)
		if errors.Is(err, keychain.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[key] = val
	}
	return result, nil
}

func (c *Client) Clear() error {
	return c.do(http.MethodDelete, "/v1/items", nil, nil)
}

// Health checks that the agent is up.
func (c *Client) Health() error {
	return c.do(http.MethodGet, "/v1/health", nil, nil)
}

func (c *Client) do(method, path string, body io.Reader, v any) error {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to agent: %w (is keyhold serve running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into a keychain error where
// the agent reported a keychain code.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e ErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, raw)
	}
	if code, ok := keychain.ParseCode(e.Code); ok {
		return fmt.Errorf("agent: %w", keychain.CodeError(code, e.Error))
	}
	return fmt.Errorf("API error %d: %s", resp.StatusCode, e.Error)
}
