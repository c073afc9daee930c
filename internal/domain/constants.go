package domain

import "time"

// ==== WebSocket Constants ====

// MaxMessageSize is the maximum allowed inbound WebSocket frame in bytes
const MaxMessageSize = 64 * 1024

// MaxHistorySize is the number of chat frames kept per session for newcomers
const MaxHistorySize = 50

// SendQueueSize is the number of outbound frames buffered per connection
const SendQueueSize = 256

// ==== Feed Constants ====

// FeedFPS is the default telemetry cadence per connection
const FeedFPS = 60.0

// FeedInterval is the time between two telemetry frames at FeedFPS
const FeedInterval = time.Second / time.Duration(FeedFPS)

// ==== Rate Limit Constants ====

const (
	// DefaultRateLimitAPI is the default rate limit for the HTTP API (requests/sec)
	DefaultRateLimitAPI = 10

	// DefaultRateLimitWS is the default rate limit for WebSocket connections (req/sec)
	DefaultRateLimitWS = 5
)

// ==== Identity Constants ====

// MaxIDLength bounds client supplied user and session ids
const MaxIDLength = 64

// GeneratedSessionIDLength is the length of server generated session ids
const GeneratedSessionIDLength = 8
