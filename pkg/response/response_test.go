package response

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessResponse(t *testing.T) {
	t.Run("without data", func(t *testing.T) {
		resp := SuccessResponse("Operation completed.")

		assert.Equal(t, StatusSuccess, resp.Status)
		assert.Equal(t, "Operation completed.", resp.Message)
		assert.Nil(t, resp.Data)
	})

	t.Run("with data", func(t *testing.T) {
		data := map[string]string{"short_code": "abc1234"}

		resp := SuccessResponse("Operation completed.", data)

		assert.Equal(t, StatusSuccess, resp.Status)
		assert.Equal(t, data, resp.Data)
	})
}

func TestValidationErrorResponse(t *testing.T) {
	type payload struct {
		URL  string `validate:"required,url"`
		Slug string `validate:"omitempty,min=3,max=32"`
	}

	validate := validator.New()

	t.Run("not a validation error", func(t *testing.T) {
		resp := ValidationErrorResponse(errors.New("unknown error"))

		assert.Equal(t, StatusError, resp.Status)
		assert.Empty(t, resp.Details)
	})

	t.Run("required field", func(t *testing.T) {
		err := validate.Struct(payload{})
		require.Error(t, err)

		resp := ValidationErrorResponse(err)

		assert.Equal(t, StatusError, resp.Status)
		require.Len(t, resp.Details, 1)

		detail, ok := resp.Details[0].(validationError)
		require.True(t, ok)
		assert.Equal(t, "URL", detail.Field)
		assert.Equal(t, "This field is required.", detail.Issue)
	})

	t.Run("invalid url", func(t *testing.T) {
		err := validate.Struct(payload{URL: "not a url"})
		require.Error(t, err)

		resp := ValidationErrorResponse(err)

		require.Len(t, resp.Details, 1)

		detail, ok := resp.Details[0].(validationError)
		require.True(t, ok)
		assert.Equal(t, "Invalid URL.", detail.Issue)
	})

	t.Run("slug too short", func(t *testing.T) {
		err := validate.Struct(payload{URL: "https://example.com", Slug: "ab"})
		require.Error(t, err)

		resp := ValidationErrorResponse(err)

		require.Len(t, resp.Details, 1)

		detail, ok := resp.Details[0].(validationError)
		require.True(t, ok)
		assert.Equal(t, "Slug", detail.Field)
		assert.Equal(t, "Must be at least 3 characters long.", detail.Issue)
	})

	t.Run("multiple fields", func(t *testing.T) {
		err := validate.Struct(payload{Slug: "ab"})
		require.Error(t, err)

		resp := ValidationErrorResponse(err)

		assert.Len(t, resp.Details, 2)
	})
}
