// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrAdmissionRejected   = errors.New("queue admission rejected")
	ErrQueueCapacity       = errors.New("queue is at capacity")
	ErrEntryNotFound       = errors.New("queue entry not found")
	ErrEntryRunning        = errors.New("queue entry is running")
	ErrInvalidTransition   = errors.New("invalid entry status transition")
	ErrProcessStopped      = errors.New("process is stopped")
	ErrProcessDown         = errors.New("device is down")
	ErrDeliveryFailed      = errors.New("signal delivery failed")
	ErrTimerBoundsExceeded = errors.New("subscription timer bounds exceeded")
	ErrEmptyURL            = errors.New("subscription url is empty")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrHubNotRunning       = errors.New("event hub is not running")
	ErrSubscriberClosed    = errors.New("subscriber is closed")
	ErrJobNotFound         = errors.New("job not found")
)

// Subscription rejection reasons returned to the subscriber.
const (
	ReasonUnsupportedType     = "UnsupportedType"
	ReasonMissingSubscription = "MissingSubscription"
	ReasonMissingURL          = "MissingURL"
	ReasonTimerBounds         = "TimerBounds"
	ReasonStepBounds          = "StepBounds"
	ReasonStoreFailed         = "StoreFailed"
)

// SubscriptionError reports why a subscription was refused.
type SubscriptionError struct {
	Reason  string
	Message string
	Err     error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscription rejected (%s): %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("subscription rejected (%s): %s", e.Reason, e.Message)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// NewSubscriptionError creates a new SubscriptionError.
func NewSubscriptionError(reason, message string, err error) *SubscriptionError {
	return &SubscriptionError{
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// JobExecutionError wraps a job runner failure for one queue entry.
type JobExecutionError struct {
	EntryID string
	Phase   string
	Err     error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("entry %s failed during %s: %v", e.EntryID, e.Phase, e.Err)
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}

// NewJobExecutionError creates a new JobExecutionError.
func NewJobExecutionError(entryID, phase string, err error) *JobExecutionError {
	return &JobExecutionError{
		EntryID: entryID,
		Phase:   phase,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
