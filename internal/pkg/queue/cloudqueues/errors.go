package cloudqueues

import (
	"fmt"
	"net/http"

	"cloudqueues-driver/internal/pkg/queue"
)

// ResponseError is returned for every non-2xx response from the service.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("cloudqueues: %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("cloudqueues: %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Is reports 404 responses as queue.ErrNotFound.
func (e *ResponseError) Is(target error) bool {
	return target == queue.ErrNotFound && e.StatusCode == http.StatusNotFound
}
