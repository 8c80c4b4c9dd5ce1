package worker

import (
	"errors"
	"fmt"

	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/publisher"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

// ErrTransient and ErrPermanent let inbox handlers steer retry behaviour.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// WrapTransient marks err as retryable.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// WrapPermanent marks err as not worth retrying.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// FailureType classifies DLQ entries.
type FailureType string

const (
	FailureTypeValidation FailureType = publisher.ErrorClassValidation
	FailureTypePermanent  FailureType = publisher.ErrorClassPermanent
	FailureTypeTransient  FailureType = publisher.ErrorClassTransient
	FailureTypeUnknown    FailureType = publisher.ErrorClassUnknown
)

// classify maps a processing error to its failure type and whether another
// attempt may succeed.
func classify(err error) (FailureType, bool) {
	switch {
	case errors.Is(err, ErrPermanent):
		return FailureTypePermanent, false
	case errors.Is(err, ErrTransient):
		return FailureTypeTransient, true
	}
	switch xmpt.CodeOf(err) {
	case xmpt.CodeInvalidMessagePayload:
		return FailureTypeValidation, false
	case xmpt.CodeInvalidConfig, xmpt.CodeInboxSkillMissing:
		return FailureTypePermanent, false
	case xmpt.CodePeerUnreachable, xmpt.CodeTimeout:
		return FailureTypeTransient, true
	}
	return FailureTypeUnknown, true
}
