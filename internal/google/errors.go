package google

import (
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// invalidGrantCodes are oauth2.RetrieveError.ErrorCode values that mean the
// refresh token itself is no longer usable (revoked, expired, or the user
// disconnected the app), as opposed to a transient token-endpoint failure.
var invalidGrantCodes = map[string]bool{
	"invalid_grant": true,
	"unauthorized_client": true,
}

// quotaReasons are the googleapi.Error.Reason values Google uses for
// 403 responses that are actually quota exhaustion, not an authorization
// failure, and therefore retryable.
var quotaReasons = map[string]bool{
	"quotaExceeded":              true,
	"userRateLimitExceeded":      true,
	"rateLimitExceeded":          true,
	"dailyLimitExceeded":         true,
	"sharingRateLimitExceeded":   true,
}

// Kind classifies a Google API failure into the taxonomy the sync engine
// and retry controller branch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindQuota
	KindRateLimited
	KindSyncTokenExpired
	KindServer
	KindNetwork
	KindClientBadRequest
)

// APIError wraps a classified Google API failure.
type APIError struct {
	Kind       Kind
	StatusCode int
	Reason     string
	Retryable  bool
	cause      error
}

func (e *APIError) Error() string {
	return e.cause.Error()
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Classify maps a raw error from the calendar/v3 client into an *APIError.
// An error with no *googleapi.Error or *oauth2.RetrieveError underneath is
// treated as a transient network failure, such as a connection reset or
// timeout.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if invalidGrantCodes[retrieveErr.ErrorCode] {
			return &APIError{Kind: KindAuth, StatusCode: http.StatusUnauthorized, Reason: retrieveErr.ErrorCode, Retryable: false, cause: err}
		}
		return &APIError{Kind: KindNetwork, Retryable: true, cause: err}
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &APIError{Kind: KindNetwork, Retryable: true, cause: err}
	}

	reason := extractReason(gerr)

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return &APIError{Kind: KindAuth, StatusCode: gerr.Code, Reason: reason, Retryable: false, cause: err}
	case gerr.Code == http.StatusForbidden && quotaReasons[reason]:
		return &APIError{Kind: KindQuota, StatusCode: gerr.Code, Reason: reason, Retryable: true, cause: err}
	case gerr.Code == http.StatusForbidden:
		return &APIError{Kind: KindAuth, StatusCode: gerr.Code, Reason: reason, Retryable: false, cause: err}
	case gerr.Code == http.StatusTooManyRequests:
		return &APIError{Kind: KindRateLimited, StatusCode: gerr.Code, Reason: reason, Retryable: true, cause: err}
	case gerr.Code == http.StatusGone:
		return &APIError{Kind: KindSyncTokenExpired, StatusCode: gerr.Code, Reason: reason, Retryable: false, cause: err}
	case gerr.Code == http.StatusBadRequest:
		return &APIError{Kind: KindClientBadRequest, StatusCode: gerr.Code, Reason: reason, Retryable: false, cause: err}
	case gerr.Code >= 500:
		return &APIError{Kind: KindServer, StatusCode: gerr.Code, Reason: reason, Retryable: true, cause: err}
	default:
		return &APIError{Kind: KindUnknown, StatusCode: gerr.Code, Reason: reason, Retryable: false, cause: err}
	}
}

func extractReason(gerr *googleapi.Error) string {
	if len(gerr.Errors) > 0 {
		return gerr.Errors[0].Reason
	}
	return ""
}

// PushNotSupported reports whether err is Google's
// "pushNotSupportedForRequestedResource" response, which callers treat as a
// non-fatal skip rather than a sync failure.
func PushNotSupported(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return extractReason(gerr) == "pushNotSupportedForRequestedResource"
}
