package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"tweetcore/internal/circuitbreaker"
	"tweetcore/internal/common/errors"
	"tweetcore/internal/common/logging"
	"tweetcore/internal/common/pacer"
	"tweetcore/internal/credentials"
	"tweetcore/internal/faults"
	"tweetcore/internal/oauth"
	"tweetcore/internal/ratelimit"
)

// Executor performs signed calls. It is safe for concurrent use; the only
// state it touches after construction is behind the fault policy and the rate
// limit manager.
type Executor struct {
	client     *http.Client
	signer     *oauth.Signer
	policy     *faults.Policy
	logger     logging.Logger
	rateLimits RateLimits
	tracking   TrackerMode
	pacer      *pacer.Pacer
	breakers   *circuitbreaker.Registry
	onWaiting  func(QueryAwaitingEvent)
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithRateLimits wires the manager that observes response headers and serves
// the quota checked in tracking modes.
func WithRateLimits(rateLimits RateLimits) Option {
	return func(e *Executor) {
		e.rateLimits = rateLimits
	}
}

// WithTrackerMode selects the pre-send quota behaviour
func WithTrackerMode(mode TrackerMode) Option {
	return func(e *Executor) {
		e.tracking = mode
	}
}

// WithPacer spaces sends per credential identity
func WithPacer(p *pacer.Pacer) Option {
	return func(e *Executor) {
		e.pacer = p
	}
}

// WithCircuitBreakers guards each API host with its own breaker
func WithCircuitBreakers(registry *circuitbreaker.Registry) Option {
	return func(e *Executor) {
		e.breakers = registry
	}
}

// WithWaitingHook is called before the executor sleeps for a rate limit reset
func WithWaitingHook(hook func(QueryAwaitingEvent)) Option {
	return func(e *Executor) {
		e.onWaiting = hook
	}
}

// WithSleeper replaces the function used to wait for a reset
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New creates an executor. Nil arguments get defaults.
func New(client *http.Client, signer *oauth.Signer, policy *faults.Policy, opts ...Option) *Executor {
	e := &Executor{
		client: client,
		signer: signer,
		policy: policy,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	if e.signer == nil {
		e.signer = oauth.NewSigner()
	}
	if e.logger == nil {
		e.logger = logging.GetGlobalLogger()
	}
	e.logger = e.logger.WithFields(logging.String("component", "executor"))
	if e.policy == nil {
		e.policy = faults.NewPolicy(faults.DefaultConfig(), e.logger)
	}
	return e
}

// Policy returns the fault policy applied to every outcome
func (e *Executor) Policy() *faults.Policy {
	return e.policy
}

// Execute signs and sends req as creds.
//
// On success it returns the response. On a transport or service failure the
// fault policy decides: the typed error is returned, or (nil, nil) when the
// failure was swallowed. Configuration errors and caller cancellation are
// always returned.
func (e *Executor) Execute(ctx context.Context, req *Request, creds credentials.CredentialSet) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, errors.ConfigError("request url is required")
	}
	if req.Method == "" {
		withMethod := *req
		withMethod.Method = http.MethodGet
		req = &withMethod
	}

	target, body, err := prepare(req)
	if err != nil {
		return nil, err
	}

	authorization, err := e.authorize(req, target, creds)
	if err != nil {
		return nil, err
	}

	ctx = logging.ContextWithRequestID(ctx, uuid.NewString())
	identity := creds.Identity().Key()
	logger := e.logger.WithContext(logging.ContextWithIdentity(ctx, identity))

	if !req.SkipRateLimitTracking {
		if err := e.awaitQuota(ctx, logger, req.URL, creds); err != nil {
			return nil, err
		}
	}
	if err := e.pacer.WaitForKey(ctx, identity); err != nil {
		return nil, err
	}

	resp, err := e.send(ctx, req, target, body, authorization)

	if resp != nil && resp.RateLimit != nil && e.rateLimits != nil {
		e.rateLimits.ObserveRateLimit(context.WithoutCancel(ctx), creds, req.URL, resp.RateLimit)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		logger.Debug("Request failed",
			logging.String("method", req.Method),
			logging.String("endpoint", ratelimit.EndpointKey(req.URL)),
			logging.Int("status", status),
			logging.Err(err),
		)
		return nil, e.policy.Handle(req.URL, status, err)
	}

	logger.Debug("Request completed",
		logging.String("method", req.Method),
		logging.String("endpoint", ratelimit.EndpointKey(req.URL)),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", resp.Duration),
	)
	return resp, nil
}

// Fetch implements ratelimit.Fetcher
func (e *Executor) Fetch(ctx context.Context, rawURL string, creds credentials.CredentialSet) (string, bool, error) {
	resp, err := e.Execute(ctx, &Request{
		Method:                http.MethodGet,
		URL:                   rawURL,
		SkipRateLimitTracking: true,
	}, creds)
	if err != nil {
		return "", false, err
	}
	if resp == nil {
		return "", false, nil
	}
	return resp.Body, true, nil
}

func prepare(req *Request) (target, body string, err error) {
	u, parseErr := url.Parse(req.URL)
	if parseErr != nil || u.Scheme == "" || u.Host == "" {
		return "", "", errors.ConfigError("request url is malformed").WithContext("url", req.URL)
	}

	if req.hasBody() {
		return u.String(), req.Parameters.Encode(), nil
	}
	if len(req.Parameters) > 0 {
		q := u.Query()
		for k, values := range req.Parameters {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), "", nil
}

func (e *Executor) authorize(req *Request, target string, creds credentials.CredentialSet) (string, error) {
	var bodyParams url.Values
	if req.hasBody() {
		bodyParams = req.Parameters
	}

	switch req.Auth {
	case AuthNone:
		return "", nil
	case AuthBasic:
		return oauth.BasicAuthorization(creds)
	default:
		if len(req.OAuthExtras) > 0 {
			return e.signer.SignOAuth(req.Method, target, bodyParams, creds, req.OAuthExtras)
		}
		return e.signer.Sign(req.Method, target, bodyParams, creds)
	}
}

func (e *Executor) awaitQuota(ctx context.Context, logger logging.Logger, rawURL string, creds credentials.CredentialSet) error {
	if e.tracking == TrackerNone || e.rateLimits == nil {
		return nil
	}

	limit, err := e.rateLimits.GetQueryRateLimit(ctx, rawURL, creds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("Could not read rate limit, sending anyway", logging.String("url", rawURL), logging.Err(err))
		return nil
	}
	if limit == nil {
		return nil
	}

	wait := limit.WaitDuration(e.now())
	if wait <= 0 {
		return nil
	}

	fields := []logging.Field{
		logging.String("endpoint", ratelimit.EndpointKey(rawURL)),
		logging.Int("limit", limit.Limit),
		logging.Time("reset", limit.ResetTime()),
	}
	if e.tracking == TrackerTrackOnly {
		logger.Warn("Rate limit exhausted", fields...)
		return nil
	}

	if e.onWaiting != nil {
		e.onWaiting(QueryAwaitingEvent{
			URL:       rawURL,
			Identity:  creds.Identity().Key(),
			RateLimit: limit,
			Wait:      wait,
		})
	}
	logger.Info("Awaiting rate limit reset", append(fields, logging.Duration("wait", wait))...)
	return e.sleep(ctx, wait)
}

func (e *Executor) send(ctx context.Context, req *Request, target, body, authorization string) (*Response, error) {
	var bodyReader io.Reader
	if req.hasBody() {
		bodyReader = strings.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, errors.ConfigError("failed to create request").WithContext("url", target)
	}
	if req.hasBody() {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if authorization != "" {
		httpReq.Header.Set("Authorization", authorization)
	}

	var response *Response
	do := func() error {
		start := time.Now()
		resp, err := e.client.Do(httpReq)
		if err != nil {
			return errors.TransportError("request failed", err).WithContext("url", req.URL)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.TransportError("failed to read response body", err).WithContext("url", req.URL)
		}

		response = &Response{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Headers:    resp.Header,
			Duration:   time.Since(start),
		}
		if limit, ok := ratelimit.FromHeaders(resp.Header); ok {
			response.RateLimit = limit
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return ParseServiceError(resp.StatusCode, raw)
	}

	if e.breakers != nil {
		cb := e.breakers.ForHost(httpReq.URL.Host)
		err = cb.Execute(do)
		if state := cb.State(); err != nil && state != circuitbreaker.StateClosed {
			e.logger.Warn("Circuit breaker not closed",
				logging.String("breaker", cb.Name()),
				logging.String("state", state.String()),
			)
		}
	} else {
		err = do()
	}
	return response, err
}

type errorDocument struct {
	Errors json.RawMessage `json:"errors"`
	Error  string          `json:"error"`
}

// ParseServiceError turns a failure body into a service error. Bodies that do
// not carry recognisable errors yield the synthetic unparseable code.
func ParseServiceError(statusCode int, body []byte) error {
	var doc errorDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return errors.AsServiceError(errors.ParseError("error body is not valid JSON", err), statusCode)
	}

	var details []errors.ServiceDetail
	switch {
	case len(doc.Errors) > 0 && string(doc.Errors) != "null":
		if err := json.Unmarshal(doc.Errors, &details); err != nil {
			var message string
			if json.Unmarshal(doc.Errors, &message) != nil {
				return errors.AsServiceError(errors.ParseError("unexpected errors field", err), statusCode)
			}
			details = []errors.ServiceDetail{{Message: message}}
		}
	case doc.Error != "":
		details = []errors.ServiceDetail{{Message: doc.Error}}
	}

	if len(details) == 0 {
		return errors.AsServiceError(errors.ParseError("error body carries no errors", nil), statusCode)
	}
	return errors.ServiceError(statusCode, details)
}
