package reddit

import (
	"fmt"
	"net/http"
)

// FetchError reports a listing request that did not yield posts: a transport
// failure, a non-200 status or an undecodable body.
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
		if e.Body != "" {
			msg += ": " + e.Body
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether repeating the request may succeed.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		return true
	}
	return false
}
