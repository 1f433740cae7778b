package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	apperrors "github.com/opsforge/opsplane/internal/errors"
)

// classifyAWS folds an AWS SDK failure into the closed provider taxonomy.
// Timeouts and throttling are transient; everything the dispatcher might
// retry must land on ErrTransientProvider and nothing else.
func classifyAWS(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out", apperrors.ErrTransientProvider, op)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrTransientProvider, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException",
			"RequestLimitExceeded", "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %s: %s", apperrors.ErrTransientProvider, op, apiErr.ErrorCode())
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation",
			"UnrecognizedClientException", "ExpiredToken", "ExpiredTokenException":
			return fmt.Errorf("%w: %s: %s", apperrors.ErrPermissionDenied, op, apiErr.ErrorCode())
		case "ResourceNotFoundException", "ClusterNotFoundException",
			"ServiceNotFoundException", "InvalidInstanceID.NotFound":
			return fmt.Errorf("%w: %s: %s", apperrors.ErrResourceNotFound, op, apiErr.ErrorCode())
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%w: %s: %s", apperrors.ErrTransientProvider, op, apiErr.ErrorCode())
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
		return fmt.Errorf("%w: %s: status %d", apperrors.ErrTransientProvider, op, respErr.HTTPStatusCode())
	}

	return fmt.Errorf("%s: %w", op, err)
}

// unsupported builds the canonical error for a verb the resource kind cannot
// perform.
func unsupported(kind, verb string) error {
	return fmt.Errorf("%w: %s does not support %s", apperrors.ErrUnsupportedOperation, kind, verb)
}
