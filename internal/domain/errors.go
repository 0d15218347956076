package domain

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorKindInvalidArgument = "invalid-argument"
	ErrorKindInternal        = "internal"
	ErrorKindUnauthenticated = "unauthenticated"
	ErrorKindNotFound        = "not-found"
)

// ValidationFailure reports bad caller input.
func ValidationFailure(field, message string) error {
	return goerrors.NewValidation(fmt.Sprintf("%s %s", field, message), goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorKindInvalidArgument)
}

// IntegrationFailure reports a transport or provider-side rejection. It is
// never retried automatically. The cause stays on the error for logs; the
// message shown to callers only names the provider.
func IntegrationFailure(provider Provider, cause error) error {
	message := fmt.Sprintf("%s integration failed", provider)
	err := goerrors.New(message, goerrors.CategoryExternal)
	err.Source = cause
	return err.
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorKindInternal).
		WithMetadata(map[string]any{"provider": string(provider)})
}

// AuthenticityFailure reports a notification that failed verification.
func AuthenticityFailure(provider Provider, reason string) error {
	return goerrors.New(fmt.Sprintf("%s notification rejected: %s", provider, reason), goerrors.CategoryAuth).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorKindUnauthenticated).
		WithMetadata(map[string]any{"provider": string(provider)})
}

func NotFound(resource, id string) error {
	return goerrors.New(fmt.Sprintf("%s %q not found", resource, id), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorKindNotFound)
}

func IsValidation(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation, goerrors.CategoryBadInput)
}

func IsIntegration(err error) bool {
	return hasCategory(err, goerrors.CategoryExternal)
}

func IsAuthenticity(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

// ErrorKind maps any error onto the caller-facing kinds.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return ErrorKindInvalidArgument
	case IsAuthenticity(err):
		return ErrorKindUnauthenticated
	case IsNotFound(err):
		return ErrorKindNotFound
	}
	return ErrorKindInternal
}

// ErrorMessage returns the message safe to show a caller.
func ErrorMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return "an unexpected error occurred"
}

func hasCategory(err error, categories ...goerrors.Category) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for _, category := range categories {
		if richErr.Category == category {
			return true
		}
	}
	return false
}
