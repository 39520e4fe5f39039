package ratelimit

import (
	"net/http"
	"strconv"
)

const (
	HeaderLimit     = "x-rate-limit-limit"
	HeaderRemaining = "x-rate-limit-remaining"
	HeaderReset     = "x-rate-limit-reset"
)

// FromHeaders extracts the quota carried by a response. All three headers must
// be present and numeric.
func FromHeaders(h http.Header) (*EndpointRateLimit, bool) {
	limit, err := strconv.Atoi(h.Get(HeaderLimit))
	if err != nil {
		return nil, false
	}
	remaining, err := strconv.Atoi(h.Get(HeaderRemaining))
	if err != nil {
		return nil, false
	}
	reset, err := strconv.ParseInt(h.Get(HeaderReset), 10, 64)
	if err != nil {
		return nil, false
	}
	return NewEndpointRateLimit(limit, remaining, reset), true
}
