package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `validate:"required"`
	URL  string `validate:"required,url"`
}

func TestValidate(t *testing.T) {
	t.Run("should accept a valid struct", func(t *testing.T) {
		err := Validate(sample{Name: "alchemy", URL: "https://rpc.example.com"})
		require.NoError(t, err)
	})

	t.Run("should report every violated field under ErrValidation", func(t *testing.T) {
		err := Validate(sample{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "Name")
		assert.Contains(t, err.Error(), "URL")
	})

	t.Run("should reject a malformed URL", func(t *testing.T) {
		err := Validate(sample{Name: "x", URL: "not a url"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
	})
}
