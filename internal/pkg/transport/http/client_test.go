package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("should apply defaults", func(t *testing.T) {
		client := NewClient()
		require.NotNil(t, client)

		assert.Nil(t, client.Logger)
		assert.Equal(t, 5*time.Second, client.HTTPClient.Timeout)
		assert.Equal(t, 2, client.RetryMax)
	})

	t.Run("should honor options", func(t *testing.T) {
		client := NewClient(
			WithTimeout(time.Second),
			WithRetryWaitMin(10*time.Millisecond),
			WithRetryWaitMax(20*time.Millisecond),
			WithRetryMax(0),
		)

		assert.Equal(t, time.Second, client.HTTPClient.Timeout)
		assert.Equal(t, 10*time.Millisecond, client.RetryWaitMin)
		assert.Equal(t, 20*time.Millisecond, client.RetryWaitMax)
		assert.Zero(t, client.RetryMax)
	})
}
