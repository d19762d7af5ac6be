package converter

import (
	"context"
	"errors"

	"dw2rc/internal/domain"
	"dw2rc/internal/langs"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	// ErrTitleNotTranslated means the source title is still the English one
	ErrTitleNotTranslated = errors.New("title not converted")
	// ErrMissingSource means required source files could not be downloaded
	ErrMissingSource = errors.New("source content missing")
)

// Params are the inputs every converter is constructed with
type Params struct {
	LanguageCode string
	RepoURL      string
	OutDir       string
	Quiet        bool
	Language     langs.Language
}

// Validate ensures the inputs every converter needs are present
func (p Params) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.LanguageCode, validation.Required),
		validation.Field(&p.RepoURL, validation.Required),
		validation.Field(&p.OutDir, validation.Required),
	)
}

// Converter turns one DokuWiki resource into a Resource Container
type Converter interface {
	Run(ctx context.Context) error
	// Trying names the step in progress, read after a failure
	Trying() string
}

// Factory constructs a converter for one language
type Factory func(p Params) (Converter, error)

// Classify maps a converter error to its failure kind
func Classify(err error) domain.FailureKind {
	switch {
	case err == nil:
		return domain.FailureUnclassified
	case errors.Is(err, ErrTitleNotTranslated):
		return domain.FailureTitleNotTranslated
	case errors.Is(err, ErrMissingSource):
		return domain.FailureMissingSource
	default:
		return domain.FailureUnclassified
	}
}
