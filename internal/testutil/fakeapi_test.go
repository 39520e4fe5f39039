package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, target, authorization string, form url.Values) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestFakeAPI_Routes(t *testing.T) {
	api := NewFakeAPI()
	defer api.Close()

	resp, body := post(t, api.URL("oauth/request_token"), `OAuth oauth_callback="oob"`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "oauth_callback_confirmed=true")

	resp, _ = post(t, api.URL("oauth/access_token"), `OAuth oauth_token="request-token"`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a verifier is required")

	resp, body = post(t, api.URL("oauth2/token"), "Basic abc", url.Values{"grant_type": {"client_credentials"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var bearer map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &bearer))
	assert.Equal(t, BearerToken, bearer["access_token"])

	resp, _ = post(t, api.URL("oauth2/invalidate_token"), "Basic abc", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, 1, api.Calls(RouteRequestToken))
	assert.Equal(t, 1, api.Calls(RouteAccessToken))
	assert.Equal(t, 4, api.TotalCalls())

	last, ok := api.LastRequest(RouteBearerToken)
	require.True(t, ok)
	assert.Equal(t, "client_credentials", last.Form.Get("grant_type"))
}

func TestFakeAPI_ReplyOverrideAndHeaders(t *testing.T) {
	api := NewFakeAPI()
	defer api.Close()

	api.SetAPIRateLimit(15, 3, 1700000000)
	resp, err := http.Get(api.URL("1.1/statuses/home_timeline.json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "3", resp.Header.Get("x-rate-limit-remaining"))

	api.SetReply(RouteAPI, Reply{Status: http.StatusTooManyRequests, Body: `{"errors":[{"code":88}]}`})
	resp, err = http.Get(api.URL("2/tweets"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	api.ClearReply(RouteAPI)
	resp, err = http.Get(api.URL("1.1/application/rate_limit_status.json"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "/statuses/home_timeline")
	assert.Len(t, api.Requests(RouteAPI), 2)
}

func TestRateLimitStatusBuilder(t *testing.T) {
	body := NewRateLimitStatusBuilder().WithEndpoint("/users/show/:id", 900, 12, 42).Build()

	var doc struct {
		Resources map[string]map[string]map[string]int64 `json:"resources"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	assert.Equal(t, int64(12), doc.Resources["users"]["/users/show/:id"]["remaining"])
}
