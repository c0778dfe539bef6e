// Package statusclient issues the single HTTPS status query a tunnel
// client makes against its remote.
package statusclient

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/http2"
)

// StatusError reports a non-200 response or a JSON decode failure from
// the status endpoint. Message carries the remote's "message" field
// when the body parsed successfully.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status query: %v", e.Err)
	}
	return fmt.Sprintf("status query: remote returned %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Client queries a remote's JSON status endpoint.
type Client struct {
	remoteAddress string
	httpClient    *http.Client
}

// New builds a Client against remoteAddress, over an HTTP/2 transport
// with certificate verification disabled — the same trust choice the
// tunnel's pool connections make, since the remote reuses one
// self-signed certificate for both.
func New(remoteAddress string) *Client {
	return &Client{
		remoteAddress: remoteAddress,
		httpClient: &http.Client{
			Transport: &http2.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
	}
}

// ExtraOptions lets a caller override the request built by Query: a
// different path, or additional headers merged over the defaults. The
// host is always the Client's remoteAddress; it cannot be overridden.
type ExtraOptions struct {
	Path    string
	Headers http.Header
}

// Query issues GET https://<remoteAddress>/<id> with
// Accept: application/json, merges extra over the defaults, and
// decodes the JSON body into a generic map. On non-200 it returns a
// *StatusError built from the body's "message" field when present.
func (c *Client) Query(id string, extra *ExtraOptions) (map[string]interface{}, error) {
	path := "/" + id
	headers := http.Header{"Accept": []string{"application/json"}}

	if extra != nil {
		if extra.Path != "" {
			path = extra.Path
		}
		for k, v := range extra.Headers {
			headers[k] = v
		}
	}

	url := "https://" + c.remoteAddress + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, &StatusError{Err: err}
	}
	req.Header = headers

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &StatusError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StatusError{Err: fmt.Errorf("reading body: %w", err)}
	}

	var parsed map[string]interface{}
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		if decodeErr != nil {
			return nil, &StatusError{StatusCode: resp.StatusCode, Err: decodeErr}
		}
		msg, _ := parsed["message"].(string)
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if decodeErr != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: decodeErr}
	}
	return parsed, nil
}
