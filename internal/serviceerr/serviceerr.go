// Package serviceerr carries the coded error type shared by the domain services.
package serviceerr

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// ServiceError wraps a failure with a stable "operation.reason" code that the
// HTTP layer returns to clients.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

// New builds a ServiceError for the operation and reason.
func New(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CodeOf extracts the code of the first ServiceError in the chain.
func CodeOf(err error) (string, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}

// Reporter logs service failures with consistent operation and reason fields.
type Reporter struct {
	logger  *zap.Logger
	message string
}

// NewReporter returns a Reporter writing entries with the given message.
func NewReporter(logger *zap.Logger, message string) Reporter {
	if logger == nil {
		logger = noOpLogger
	}
	return Reporter{logger: logger, message: message}
}

// Fail logs the failure and returns the matching ServiceError.
func (r Reporter) Fail(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := r.logger
	if logger == nil {
		logger = noOpLogger
	}
	logger.Error(r.message, attrs...)
	return New(operation, reason, err)
}
