package ratelimit

import (
	"encoding/json"
	"time"

	"tweetcore/internal/common/errors"
)

type statusDocument struct {
	Resources map[string]map[string]*EndpointRateLimit `json:"resources"`
}

// ParseStatus decodes a rate_limit_status body. Family groupings such as
// "statuses" are flattened; paths are used as keys.
func ParseStatus(body []byte, retrievedAt time.Time) (*CredentialsRateLimits, error) {
	var doc statusDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.ParseError("rate limit status body is not valid JSON", err)
	}
	if doc.Resources == nil {
		return nil, errors.ParseError("rate limit status body has no resources", nil)
	}

	limits := NewCredentialsRateLimits()
	limits.RetrievedAt = retrievedAt
	for _, family := range doc.Resources {
		for path, limit := range family {
			if limit == nil {
				continue
			}
			limits.Resources[path] = NewEndpointRateLimit(limit.Limit, limit.Remaining, limit.Reset)
		}
	}
	return limits, nil
}
