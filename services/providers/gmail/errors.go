package gmail

import (
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	customerrors "github.com/servcy/inboxstack/internal/errors"
)

// mapAPIError folds googleapi failures into the internal taxonomy.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return customerrors.ErrAuthExpired
		case apiErr.Code == http.StatusTooManyRequests:
			return customerrors.ErrRateLimited
		case apiErr.Code == http.StatusForbidden && isRateReason(apiErr):
			return customerrors.ErrRateLimited
		case apiErr.Code >= 500:
			return customerrors.ErrTransient
		}
		return customerrors.ErrTransient
	}
	return customerrors.ErrTransient
}

// mapOAuthError handles token endpoint failures. A rejected refresh token
// (invalid_grant) means the user revoked access.
func mapOAuthError(err error) error {
	if err == nil {
		return nil
	}
	if retrieveErr, ok := err.(*oauth2.RetrieveError); ok {
		if retrieveErr.ErrorCode == "invalid_grant" || strings.Contains(string(retrieveErr.Body), "invalid_grant") {
			return customerrors.ErrAccessRevoked
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusTooManyRequests {
			return customerrors.ErrRateLimited
		}
	}
	return customerrors.ErrTransient
}

func isRateReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

func isNotFound(err error) bool {
	apiErr, ok := err.(*googleapi.Error)
	return ok && apiErr.Code == http.StatusNotFound
}

// isHistoryExpired reports whether history.list rejected the startHistoryId.
// Gmail retains history for roughly a week; a 404 means the stored cursor
// aged out and the watermark has to be re-pinned at the mailbox head.
func isHistoryExpired(err error) bool {
	return isNotFound(err)
}
