package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Route names used by FakeAPI for counters and reply overrides
const (
	RouteRequestToken    = "request_token"
	RouteAccessToken     = "access_token"
	RouteBearerToken     = "oauth2_token"
	RouteInvalidateToken = "oauth2_invalidate_token"
	RouteRateLimitStatus = "rate_limit_status"
	RouteAPI             = "api"
)

// Reply is a canned response
type Reply struct {
	Status  int
	Body    string
	Headers map[string]string
}

// RecordedRequest is what FakeAPI saw for one call
type RecordedRequest struct {
	Method        string
	Path          string
	Query         url.Values
	Form          url.Values
	Authorization string
}

// FakeAPI serves the authentication and rate limit endpoints of the remote API
// from an httptest server. Every route answers with a valid default; SetReply
// overrides a route.
type FakeAPI struct {
	Server *httptest.Server
	Router *mux.Router

	RequestToken       string
	RequestTokenSecret string
	AccessToken        string
	AccessTokenSecret  string
	BearerToken        string

	mu              sync.Mutex
	rateLimitStatus string
	apiHeaders      map[string]string
	calls           map[string]int
	requests        map[string][]RecordedRequest
	replies         map[string]Reply
}

// NewFakeAPI starts a fake server. Callers must Close it.
func NewFakeAPI() *FakeAPI {
	f := &FakeAPI{
		Router:             mux.NewRouter(),
		RequestToken:       "request-token",
		RequestTokenSecret: "request-secret",
		AccessToken:        "6253282-access-token",
		AccessTokenSecret:  "access-secret",
		BearerToken:        "AAAA1234",
		rateLimitStatus:    NewRateLimitStatusBuilder().WithDefaults(1403602426).Build(),
		calls:              make(map[string]int),
		requests:           make(map[string][]RecordedRequest),
		replies:            make(map[string]Reply),
	}

	f.Router.HandleFunc("/oauth/request_token", f.wrap(RouteRequestToken, f.handleRequestToken)).Methods(http.MethodPost)
	f.Router.HandleFunc("/oauth/access_token", f.wrap(RouteAccessToken, f.handleAccessToken)).Methods(http.MethodPost)
	f.Router.HandleFunc("/oauth2/token", f.wrap(RouteBearerToken, f.handleBearerToken)).Methods(http.MethodPost)
	f.Router.HandleFunc("/oauth2/invalidate_token", f.wrap(RouteInvalidateToken, f.handleInvalidateToken)).Methods(http.MethodPost)
	f.Router.HandleFunc("/1.1/application/rate_limit_status.json", f.wrap(RouteRateLimitStatus, f.handleRateLimitStatus)).Methods(http.MethodGet)
	f.Router.PathPrefix("/1.1/").HandlerFunc(f.wrap(RouteAPI, f.handleAPI))
	f.Router.PathPrefix("/2/").HandlerFunc(f.wrap(RouteAPI, f.handleAPI))

	f.Server = httptest.NewServer(f.Router)
	return f
}

// BaseURL is the server root with a trailing slash
func (f *FakeAPI) BaseURL() string {
	return f.Server.URL + "/"
}

// URL joins path onto the server root
func (f *FakeAPI) URL(path string) string {
	return f.Server.URL + "/" + strings.TrimPrefix(path, "/")
}

// Close shuts the server down
func (f *FakeAPI) Close() {
	f.Server.Close()
}

// SetRateLimitStatus replaces the body served by the rate limit status route
func (f *FakeAPI) SetRateLimitStatus(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimitStatus = body
}

// SetAPIRateLimit makes the generic API route send x-rate-limit-* headers
func (f *FakeAPI) SetAPIRateLimit(limit, remaining int, reset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiHeaders = map[string]string{
		"x-rate-limit-limit":     strconv.Itoa(limit),
		"x-rate-limit-remaining": strconv.Itoa(remaining),
		"x-rate-limit-reset":     strconv.FormatInt(reset, 10),
	}
}

// SetReply overrides the response of route
func (f *FakeAPI) SetReply(route string, reply Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[route] = reply
}

// ClearReply restores the default response of route
func (f *FakeAPI) ClearReply(route string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.replies, route)
}

// Calls returns how many times route was hit
func (f *FakeAPI) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// TotalCalls returns the number of requests across all routes
func (f *FakeAPI) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Requests returns the requests recorded for route
func (f *FakeAPI) Requests(route string) []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests[route]))
	copy(out, f.requests[route])
	return out
}

// LastRequest returns the most recent request for route
func (f *FakeAPI) LastRequest(route string) (RecordedRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[route]
	if len(reqs) == 0 {
		return RecordedRequest{}, false
	}
	return reqs[len(reqs)-1], true
}

func (f *FakeAPI) wrap(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		r.Form = form

		f.mu.Lock()
		f.calls[route]++
		f.requests[route] = append(f.requests[route], RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Form:          form,
			Authorization: r.Header.Get("Authorization"),
		})
		reply, overridden := f.replies[route]
		f.mu.Unlock()

		if overridden {
			writeReply(w, reply)
			return
		}
		next(w, r)
	}
}

func writeReply(w http.ResponseWriter, reply Reply) {
	for k, v := range reply.Headers {
		w.Header().Set(k, v)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	io.WriteString(w, reply.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"errors": []map[string]interface{}{{"code": code, "message": message}},
	})
}

func (f *FakeAPI) handleRequestToken(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
		writeErrors(w, http.StatusUnauthorized, 215, "Bad Authentication data.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "oauth_token=%s&oauth_token_secret=%s&oauth_callback_confirmed=true",
		url.QueryEscape(f.RequestToken), url.QueryEscape(f.RequestTokenSecret))
}

func (f *FakeAPI) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.Contains(auth, "oauth_verifier=") && r.Form.Get("oauth_verifier") == "" {
		writeErrors(w, http.StatusUnauthorized, 32, "Could not authenticate you.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "oauth_token=%s&oauth_token_secret=%s&user_id=6253282&screen_name=twitterapi",
		url.QueryEscape(f.AccessToken), url.QueryEscape(f.AccessTokenSecret))
}

func (f *FakeAPI) handleBearerToken(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		writeErrors(w, http.StatusForbidden, 99, "Unable to verify your credentials")
		return
	}
	if r.Form.Get("grant_type") != "client_credentials" {
		writeErrors(w, http.StatusForbidden, 170, "Missing required parameter: grant_type")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token_type":   "bearer",
		"access_token": f.BearerToken,
	})
}

func (f *FakeAPI) handleInvalidateToken(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
		writeErrors(w, http.StatusForbidden, 99, "Unable to verify your credentials")
		return
	}
	token := r.Form.Get("access_token")
	if token == "" {
		writeErrors(w, http.StatusForbidden, 170, "Missing required parameter: access_token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (f *FakeAPI) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	body := f.rateLimitStatus
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (f *FakeAPI) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	for k, v := range f.apiHeaders {
		w.Header().Set(k, v)
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
}
