package errors

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	cause := stderrors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain", cause, ErrCodeInternal},
		{"not found", NotFound("asset %s not found", "a1"), ErrCodeNotFound},
		{"wrapped transient", pkgerrors.Wrap(Transient(cause, "embedding failed"), "pipeline"), ErrCodeTransient},
		{"deadline", pkgerrors.Wrap(context.DeadlineExceeded, "vector query"), ErrCodeTransient},
		{"permanent", Permanent(cause, "bad vector"), ErrCodePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := stderrors.New("timeout")
	err := Transient(cause, "embedding failed")

	assert.Equal(t, "[TRANSIENT_DEPENDENCY_FAILURE] embedding failed: timeout", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[NOT_FOUND] asset a1 not found", NotFound("asset %s not found", "a1").Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrCodeNotFound))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrCodeInvalidArgument))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrCodeUnauthorized))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrCodeRateLimitExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrCodeTransient))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrCodePermanent))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrCodeInternal))
}

func TestPublicMessage(t *testing.T) {
	cause := stderrors.New("dial tcp 10.0.0.5:5432: connection refused")

	assert.Equal(t, "failed to list assets", PublicMessage(pkgerrors.Wrap(Transient(cause, "failed to list assets"), "search")))
	assert.Equal(t, "asset a1 not found", PublicMessage(NotFound("asset %s not found", "a1")))
	assert.Equal(t, "internal error", PublicMessage(cause))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(CodeOf(RateLimitExceeded("slow down"))))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(CodeOf(ServiceUnavailable("database unavailable"))))
}
