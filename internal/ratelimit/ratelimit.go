// Package ratelimit implements RateLimiter: fixed-window per-(principal, class) caps
// layered under the transport's coarse IP-keyed outer limiter.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Classes match the cap table below.
const (
	ClassGeneralAPI  = "general_api"
	ClassSendMessage = "send_message"
	ClassWSSend      = "ws_send"
	ClassUploadURL   = "upload_url"
)

// defaultCaps are the built-in defaults, keyed by class. NewValkeyLimiter starts from these; callers
// may override per-class via WithCap.
var defaultCaps = map[string]struct {
	Limit  int
	Window time.Duration
}{
	ClassGeneralAPI:  {Limit: 100, Window: time.Minute},
	ClassSendMessage: {Limit: 30, Window: time.Minute},
	ClassWSSend:      {Limit: 10, Window: time.Second},
	ClassUploadURL:   {Limit: 5, Window: time.Minute},
}

// ErrUnknownClass is returned when Allow is called with a class that has no configured cap.
var ErrUnknownClass = errors.New("ratelimit: unknown class")

// Decision reports the outcome of an Allow check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the RateLimiter component's storage contract.
type Limiter interface {
	// Allow increments the (principalID, class) counter for the current fixed window and reports
	// whether the request is within cap. Rejections must be distinguishable from server errors
	//: a non-nil error here always means the limiter itself failed, never that the cap was
	// hit — a hit cap is reported via Decision.Allowed == false.
	Allow(ctx context.Context, principalID, class string) (Decision, error)
}
