package jsonrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Call(t *testing.T) {
	t.Run("should return the raw result on success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "2.0", req["jsonrpc"])
			assert.Equal(t, "starknet_blockNumber", req["method"])
			assert.NotEmpty(t, req["id"])

			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result":  1534120,
			})
		}))
		defer srv.Close()

		c := NewClient(srv.Client(), srv.URL)

		raw, err := c.Call(t.Context(), "starknet_blockNumber", nil)
		require.NoError(t, err)
		assert.JSONEq(t, "1534120", string(raw))
	})

	t.Run("should surface a JSON-RPC error object with its code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      "1",
				"error":   map[string]any{"code": 20, "message": "Contract not found"},
			})
		}))
		defer srv.Close()

		c := NewClient(srv.Client(), srv.URL)

		_, err := c.Call(t.Context(), "starknet_getClassHashAt", []any{"0xdead"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEndpointReturnedError)

		code, ok := ErrorCode(err)
		require.True(t, ok)
		assert.Equal(t, 20, code)
	})

	t.Run("should fail on a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := NewClient(http.DefaultClient, srv.URL)

		_, err := c.Call(t.Context(), "starknet_blockNumber", nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrEndpointReturnedError)
	})
}
