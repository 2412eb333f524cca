package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	remote404 := &APIError{Method: http.MethodGet, URL: "https://x/api/v1/courses/1", StatusCode: http.StatusNotFound}
	wrapped := fmt.Errorf("get page: %w", remote404)

	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsAPIError(wrapped))
	assert.False(t, IsTransport(wrapped))

	nf := NotFound("page", "12", remote404)
	assert.True(t, IsNotFound(nf))
	assert.True(t, IsAPIError(nf), "not found keeps the remote cause reachable")

	serverErr := &APIError{Method: http.MethodPut, URL: "u", StatusCode: http.StatusInternalServerError}
	assert.False(t, IsNotFound(serverErr))

	te := &TransportError{Method: "GET", URL: "u", Err: errors.New("connection refused")}
	assert.True(t, IsTransport(fmt.Errorf("wrap: %w", te)))
	assert.ErrorContains(t, te, "connection refused")

	assert.True(t, IsConfig(Config("token", "not set")))
	assert.True(t, IsUnsupported(Unsupported("reply", "delete", "replies cannot be deleted")))
}

func TestAPIErrorMessageCarriesContext(t *testing.T) {
	err := &APIError{
		Method:       http.MethodPost,
		URL:          "https://byui.instructure.com/api/v1/courses/1/pages",
		StatusCode:   http.StatusBadRequest,
		RequestBody:  []byte(`{"wiki_page":{}}`),
		ResponseBody: []byte(`{"errors":["title required"]}`),
	}
	assert.Contains(t, err.Error(), "POST")
	assert.Contains(t, err.Error(), "/courses/1/pages")
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "title required")
}
