package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        *Error
		kind       Kind
		statusCode int
	}{
		{"validation", NewValidationError("m"), KindValidation, http.StatusBadRequest},
		{"bad request", NewBadRequestError("m"), KindBadRequest, http.StatusBadRequest},
		{"not found", NewNotFoundError("m"), KindNotFound, http.StatusNotFound},
		{"not authorized", NewNotAuthorizedError("m"), KindNotAuthorized, http.StatusUnauthorized},
		{"payload too large", NewPayloadTooLargeError("m"), KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"internal", NewInternalError("m"), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.kind, tt.err.Kind())
			assert.Equal(t, tt.statusCode, tt.err.StatusCode())
			assert.Equal(t, "Error", tt.err.Status())
			assert.Equal(t, "m", tt.err.Message())
			assert.Equal(t, "m", tt.err.Error())
		})
	}
}

func TestKinds_StatusLabelConstant(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds() {
		assert.Equal(t, "Error", New(k, "x").Status(), k.String())
		assert.NotEqual(t, "unknown", k.String())
	}
}

func TestNew_UnknownKindIsInternal(t *testing.T) {
	t.Parallel()

	err := New(Kind(99), "boom")
	assert.Equal(t, KindInternal, err.Kind())
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestSerialize_WireShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewNotFoundError("/x not found").Serialize())
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"/x not found","statusCode":404,"status":"Error"}`, string(data))
}

func TestSerialize_EmptyMessage(t *testing.T) {
	t.Parallel()

	s := NewBadRequestError("").Serialize()
	assert.Equal(t, Serialized{Message: "", StatusCode: 400, Status: "Error"}, s)
}

func TestNewf(t *testing.T) {
	t.Parallel()

	err := Newf(KindValidation, "field %q is required", "room")
	assert.Equal(t, `field "room" is required`, err.Message())
}

func TestAs(t *testing.T) {
	t.Parallel()

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		_, ok := As(nil)
		assert.False(t, ok)
	})

	t.Run("plain error", func(t *testing.T) {
		t.Parallel()
		_, ok := As(errors.New("plain"))
		assert.False(t, ok)
	})

	t.Run("wrapped raisable", func(t *testing.T) {
		t.Parallel()
		wrapped := fmt.Errorf("handler: %w", NewNotAuthorizedError("denied"))
		r, ok := As(wrapped)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, r.StatusCode())
		assert.Equal(t, "denied", r.Message())
	})
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	r, ok := Translate(NewValidationError("bad"))
	assert.True(t, ok)
	assert.Equal(t, "bad", r.Message())

	r, ok = Translate(errors.New("db password leaked in text"))
	assert.False(t, ok)
	assert.Equal(t, http.StatusInternalServerError, r.StatusCode())
	assert.Equal(t, "Internal Server Error", r.Message())
}
