package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/offgrid-updates/update-server/pkg/updates"
)

// MetadataTimeout bounds a single update metadata request.
const MetadataTimeout = 10 * time.Second

const maxMetadataSize = 8 << 20

// ErrUpstreamUnavailable is returned when the update server could not
// deliver usable metadata: transport errors, timeouts, non-2xx responses
// and empty bodies.
var ErrUpstreamUnavailable = errors.New("update server unavailable")

type ErrorResponse struct {
	StatusCode int
	ErrorMsg   string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("unexpected status code: %d, error: %s", e.StatusCode, e.ErrorMsg)
}

type Client struct {
	serverURL  string
	httpClient *http.Client
}

func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func setAuth(adminAccessToken string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", adminAccessToken)
	}
}

func getPluginURL(stub string) string {
	return fmt.Sprintf("api/v1/plugins/%s", url.PathEscape(stub))
}

func getPluginReleaseURL(stub, version string) string {
	return fmt.Sprintf("%s/versions/%s", getPluginURL(stub), url.PathEscape(version))
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, query url.Values, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	apiEndpoint, err := url.JoinPath(c.serverURL, endpoint)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		apiEndpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, apiEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for _, f := range modifyRequestFns {
		f(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		err := json.NewDecoder(resp.Body).Decode(&errResp)
		if err != nil {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return &errResp
	}
	err := json.NewDecoder(resp.Body).Decode(v)
	if err != nil {
		return err
	}
	return nil
}

// FetchMetadata performs exactly one update metadata request for the plugin
// identifier ("<stub>/<main-file>") and returns the raw response body.
func (c *Client) FetchMetadata(ctx context.Context, identifier string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, MetadataTimeout)
	defer cancel()

	resp, err := c.sendRequest(ctx, http.MethodGet, "", url.Values{"plugin": {identifier}})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code: %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUpstreamUnavailable)
	}
	return body, nil
}

func (c *Client) GetMetadata(ctx context.Context, identifier string) (*updates.Metadata, error) {
	body, err := c.FetchMetadata(ctx, identifier)
	if err != nil {
		return nil, err
	}
	var m updates.Metadata
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListVersions returns the released versions of stub, newest first. A
// non-empty constraint filters them, e.g. "^1.2".
func (c *Client) ListVersions(ctx context.Context, stub, constraint string) ([]string, error) {
	var query url.Values
	if constraint != "" {
		query = url.Values{"constraint": {constraint}}
	}
	resp, err := c.sendRequest(ctx, http.MethodGet, getPluginURL(stub)+"/versions", query)
	if err != nil {
		return nil, err
	}
	var versions []string
	err = c.decodeResponse(resp, &versions)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

type importResponse struct {
	OK       bool     `json:"ok"`
	Versions []string `json:"versions"`
}

// ImportRelease asks the server to import the GitHub release version of
// stub. An empty version imports all releases.
func (c *Client) ImportRelease(ctx context.Context, adminAccessToken, stub, version string) ([]string, error) {
	if stub == "" {
		return nil, fmt.Errorf("plugin stub is required")
	}
	apiURL := getPluginURL(stub)
	if version != "" {
		apiURL = getPluginReleaseURL(stub, version)
	}
	resp, err := c.sendRequest(ctx, http.MethodPut, apiURL, nil, setAuth(adminAccessToken))
	if err != nil {
		return nil, err
	}
	var ir importResponse
	err = c.decodeResponse(resp, &ir)
	if err != nil {
		return nil, err
	}
	if !ir.OK {
		return nil, fmt.Errorf("import of plugin %s@%s failed: reason unknown", stub, version)
	}
	return ir.Versions, nil
}
