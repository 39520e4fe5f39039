package ratelimit

import (
	"net/url"
	"strings"
)

// EndpointKey reduces a request URL to its family path, e.g.
// https://api.twitter.com/1.1/statuses/show/20.json?x=1 -> /statuses/show/20
func EndpointKey(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}

	path = strings.TrimSuffix(path, ".json")
	for _, prefix := range []string{"/1.1/", "/2/"} {
		if strings.HasPrefix(path, prefix) {
			path = path[len(prefix)-1:]
			break
		}
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return "/"
	}
	return "/" + path
}

// matchTemplate finds the key of templates matching path. Template segments
// starting with ':' match any single segment. Exact matches win; otherwise the
// template with the most literal segments wins.
func matchTemplate(templates map[string]*EndpointRateLimit, path string) (string, bool) {
	if _, ok := templates[path]; ok {
		return path, true
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	best, bestScore := "", -1
	for key := range templates {
		if !strings.Contains(key, ":") {
			continue
		}
		score, ok := templateScore(key, segments)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && key < best) {
			best, bestScore = key, score
		}
	}
	return best, bestScore >= 0
}

func templateScore(template string, segments []string) (int, bool) {
	parts := strings.Split(strings.Trim(template, "/"), "/")
	if len(parts) != len(segments) {
		return 0, false
	}
	score := 0
	for i, part := range parts {
		if strings.HasPrefix(part, ":") {
			continue
		}
		if part != segments[i] {
			return 0, false
		}
		score++
	}
	return score, true
}
