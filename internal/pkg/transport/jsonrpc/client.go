// Package jsonrpc implements a minimal JSON-RPC 2.0 client over HTTP,
// suitable for talking to chain RPC endpoints. Request ids are UUIDs so
// concurrent calls through a shared transport stay distinguishable.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrEndpointReturnedError indicates the remote endpoint answered with
// a JSON-RPC error object. This is a definite response from the server,
// as opposed to a transport failure.
var ErrEndpointReturnedError = errors.New("endpoint returned error")

type response struct {
	JsonRPC string `json:"jsonrpc"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result json.RawMessage `json:"result"`
}

// NewError builds an error carrying a JSON-RPC error code, as returned
// by Call when the endpoint answers with an error object. Useful for
// fakes standing in for a real endpoint.
func NewError(code int, message string) error {
	return &rpcError{code: code, message: message}
}

// ErrorCode extracts the JSON-RPC error code from an error produced by
// this package. The second return is false when err does not carry one.
func ErrorCode(err error) (int, bool) {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		return rpcErr.code, true
	}
	return 0, false
}

// rpcError keeps the numeric code reachable through errors.As while the
// error chain stays rooted at ErrEndpointReturnedError.
type rpcError struct {
	code    int
	message string
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s: [%d] %s", ErrEndpointReturnedError.Error(), e.code, e.message)
}

func (e *rpcError) Unwrap() error {
	return ErrEndpointReturnedError
}

// Client sends JSON-RPC requests and returns raw results.
type Client interface {
	// Call invokes the given method with params and returns the raw
	// JSON result, or an error if the transport or the endpoint fails.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type client struct {
	endpoint   string
	httpClient *http.Client
}

var _ Client = (*client)(nil)

// NewClient builds a Client posting to the given endpoint through
// httpClient.
func NewClient(httpClient *http.Client, endpoint string) *client {
	return &client{
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

func (c *client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var data response
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}

	if data.Error != nil {
		return nil, &rpcError{code: data.Error.Code, message: data.Error.Message}
	}
	return data.Result, nil
}
