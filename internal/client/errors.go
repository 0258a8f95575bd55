package client

import "fmt"

// HTTPError reports a non-2xx response from an upstream service.
type HTTPError struct {
	Status   int
	Endpoint string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned status %d for %s", e.Status, e.Endpoint)
}

// MalformedResponseError reports a 2xx response whose body could not be
// parsed or did not have the expected shape.
type MalformedResponseError struct {
	Endpoint string
	Detail   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %s", e.Endpoint, e.Detail)
}
