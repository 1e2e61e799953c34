package response

import (
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		input   credentials
		wantMsg string
	}{
		{
			name:    "missing fields",
			input:   credentials{},
			wantMsg: "field Email is a required field, field Password is a required field",
		},
		{
			name:    "bad email and short password",
			input:   credentials{Email: "nope", Password: "short"},
			wantMsg: "field Email must be a valid email, field Password must be at least 8 characters long",
		},
	}

	v := validator.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.input)
			require.Error(t, err)
			resp := ValidationError(err.(validator.ValidationErrors))
			assert.Equal(t, StatusError, resp.Status)
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, ErrorResponse{Status: StatusError, Error: "boom"}, Error("boom"))
	assert.Equal(t, Response{Status: StatusOK, Data: 1}, StatusOKWithData(1))
	assert.Equal(t, "/new-subscription", PaymentRequired("/new-subscription").Redirect)
}
