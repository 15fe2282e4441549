package apierror

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	assert.Equal(t, "BAD_REQUEST: invalid JSON body (unexpected EOF)", BadRequest("invalid JSON body", "unexpected EOF").Error())
	assert.Equal(t, "UNAUTHORIZED: invalid token", Unauthorized("invalid token").Error())

	var nilErr *APIError
	assert.Equal(t, "", nilErr.Error())
}

func TestConstructorsSetStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, BadRequest("x", "").HTTPStatus)
	assert.Equal(t, http.StatusUnauthorized, Unauthorized("x").HTTPStatus)
	assert.Equal(t, http.StatusNotImplemented, NotSupported("x", "").HTTPStatus)

	busy := Busy("QUEUE_FULL", "too many queued jobs", 5*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, busy.HTTPStatus)
	assert.Equal(t, 5*time.Second, busy.RetryAfter)
}
