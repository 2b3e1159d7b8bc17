// Package directory is the HTTP client for the external registration and
// key-distribution service. It publishes pre-key bundles and fetches peers'
// bundles; the server consumes a returned one-time pre-key at-most-once.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"privcomm/internal/domain"
)

// Client talks to the directory over its /api/v1 surface.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for the directory at base. A nil httpClient falls back
// to http.DefaultClient.
func New(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}
}

// PublishBundle registers or replaces this identity's public key material.
func (c *Client) PublishBundle(ctx context.Context, b domain.PreKeyBundle) error {
	return c.post(ctx, "/api/v1/register", b)
}

// FetchBundle retrieves peer's bundle. The response carries at most one
// one-time pre-key, already marked consumed server-side.
func (c *Client) FetchBundle(ctx context.Context, peer domain.PeerID) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.getJSON(ctx, "/api/v1/keys/"+url.PathEscape(peer.String()), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	out.PeerID = peer
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, in any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("directory post %s: %s", path, resp.Status)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("directory get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Compile-time assertion that Client implements domain.Directory.
var _ domain.Directory = (*Client)(nil)
