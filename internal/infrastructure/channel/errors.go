package channel

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
)

// Provider error codes that will not succeed on retry.
var permanentAWSCodes = map[string]struct{}{
	"MessageRejected":                       {},
	"MailFromDomainNotVerifiedException":    {},
	"ConfigurationSetDoesNotExistException": {},
	"AccountSendingPausedException":         {},
	"InvalidParameter":                      {},
	"InvalidParameterValue":                 {},
	"InvalidParameterException":             {},
	"AuthorizationError":                    {},
	"OptedOut":                              {},
	"EndpointDisabled":                      {},
	"ValidationError":                       {},
}

// classifyAWSError wraps a provider error into a SendError. Throttling, 5xx,
// timeouts and network errors are retryable; request errors are not.
func classifyAWSError(ch notification.Channel, err error) error {
	return notification.NewSendError(ch, err, isRetryableAWSError(err))
}

func isRetryableAWSError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, permanent := permanentAWSCodes[apiErr.ErrorCode()]; permanent {
			return false
		}
		return apiErr.ErrorFault() != smithy.FaultClient || isThrottle(apiErr.ErrorCode())
	}
	// network errors and anything unrecognised
	return true
}

func isThrottle(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "ThrottledException", "TooManyRequestsException",
		"LimitExceededException", "RequestThrottled", "KMSThrottlingException":
		return true
	default:
		return false
	}
}
