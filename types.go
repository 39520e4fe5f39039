package tweetcore

import (
	"tweetcore/internal/auth"
	"tweetcore/internal/common/errors"
	"tweetcore/internal/config"
	"tweetcore/internal/credentials"
	"tweetcore/internal/executor"
	"tweetcore/internal/faults"
	"tweetcore/internal/ratelimit"
)

// Types shared with the internal packages, so callers outside this module can
// name them.
type (
	Config                = config.Config
	CredentialSet         = credentials.CredentialSet
	AuthenticationToken   = credentials.AuthenticationToken
	Request               = executor.Request
	Response              = executor.Response
	AuthScheme            = executor.AuthScheme
	TrackerMode           = executor.TrackerMode
	QueryAwaitingEvent    = executor.QueryAwaitingEvent
	EndpointRateLimit     = ratelimit.EndpointRateLimit
	CredentialsRateLimits = ratelimit.CredentialsRateLimits
	Failure               = faults.Failure
	FaultConfig           = faults.Config
	HandshakeState        = auth.State
	Error                 = errors.AppError
	ServiceDetail         = errors.ServiceDetail
)

const (
	AuthOAuth = executor.AuthOAuth
	AuthBasic = executor.AuthBasic
	AuthNone  = executor.AuthNone

	TrackerNone          = executor.TrackerNone
	TrackerTrackOnly     = executor.TrackerTrackOnly
	TrackerTrackAndAwait = executor.TrackerTrackAndAwait

	CodeUnparseableBody = errors.CodeUnparseableBody
)

var (
	// NewCredentials builds a user-context credential set
	NewCredentials = credentials.New
	// NewApplicationCredentials builds an application-only credential set
	NewApplicationCredentials = credentials.NewApplication
	// LoadConfig reads the configuration from the environment
	LoadConfig = config.Load
	// DefaultConfig returns the configuration of an empty environment
	DefaultConfig = config.Default

	IsConfiguration = errors.IsConfiguration
	IsTransport     = errors.IsTransport
	IsService       = errors.IsService
)
