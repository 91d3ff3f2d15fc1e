package engine

import (
	"errors"
	"fmt"
)

// MutationError is returned by Engine.Mutate when a mutation fails.
//
// It carries the stage that failed and, once a mutation id was minted, the
// id under which the attempt is journaled. Err is the underlying cause.
type MutationError struct {
	// Code identifies the failed stage.
	Code MutationErrorCode

	// Message is a human-readable description.
	Message string

	// MutationID identifies the journaled attempt. Empty when evaluation
	// failed before an id was minted.
	MutationID string

	// Err is the underlying cause.
	Err error
}

// MutationErrorCode categorizes mutation failures.
type MutationErrorCode string

const (
	// ErrCodeEvaluation indicates the batch could not be evaluated.
	ErrCodeEvaluation MutationErrorCode = "EVALUATION_FAILED"

	// ErrCodeRejected indicates the executor rejected the mutation and every
	// optimistic write was rolled back.
	ErrCodeRejected MutationErrorCode = "REJECTED"

	// ErrCodeJournal indicates the journal could not be written.
	ErrCodeJournal MutationErrorCode = "JOURNAL_FAILED"
)

// Error implements the error interface.
func (e *MutationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.MutationID != "" {
		return fmt.Sprintf("%s: %s (mutation=%s)", e.Code, msg, e.MutationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// IsRejected returns true if the executor rejected the mutation.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == ErrCodeRejected
	}
	return false
}

// IsEvaluationError returns true if the batch failed to evaluate.
func IsEvaluationError(err error) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == ErrCodeEvaluation
	}
	return false
}

// IsJournalError returns true if the journal could not be written.
func IsJournalError(err error) bool {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code == ErrCodeJournal
	}
	return false
}
