package migration

import (
	"dw2rc/internal/domain"
)

// Decision is the outcome of the conversion-needed check
type Decision struct {
	Convert bool
	Reason  string
}

const (
	ReasonFirstConversion = "first conversion"
	ReasonUnrecorded      = "output exists without a recorded result"
	ReasonRepair          = "output missing despite recorded success"
	ReasonConverted       = "already converted"
	ReasonRetry           = "retrying failed conversion"
	ReasonPriorFailure    = "prior conversion failed"
	ReasonNotRetryable    = "prior failure is not retryable"
)

// Decide applies the conversion policy. It has no side effects.
//
//	output  prior    retry  decision
//	no      none     any    convert
//	no      failed   true   convert
//	no      failed   false  skip
//	no      success  any    convert (repair)
//	yes     none     any    convert
//	yes     success  any    skip
//	yes     failed   true   convert
//	yes     failed   false  skip
//
// A failure whose kind is not retryable is skipped regardless of retry.
func Decide(outputExists bool, prior *domain.ConversionResult, retryFailures bool) Decision {
	if prior == nil {
		if outputExists {
			return Decision{Convert: true, Reason: ReasonUnrecorded}
		}
		return Decision{Convert: true, Reason: ReasonFirstConversion}
	}

	if prior.Success {
		if outputExists {
			return Decision{Convert: false, Reason: ReasonConverted}
		}
		return Decision{Convert: true, Reason: ReasonRepair}
	}

	if !prior.Failure.Retryable() {
		return Decision{Convert: false, Reason: ReasonNotRetryable}
	}
	if retryFailures {
		return Decision{Convert: true, Reason: ReasonRetry}
	}
	return Decision{Convert: false, Reason: ReasonPriorFailure}
}

// NeedsConversion reports whether a (re)conversion is needed
func NeedsConversion(outputExists bool, prior *domain.ConversionResult, retryFailures bool) bool {
	return Decide(outputExists, prior, retryFailures).Convert
}
