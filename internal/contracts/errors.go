package contracts

import (
	"errors"
	"strings"
)

// ErrNoRecord marks a single-row fetch that came back empty. For profiles
// this is a transient condition until the retry budget is exhausted.
var ErrNoRecord = errors.New("no matching record")

const (
	ErrorCategoryNetwork = "network"
	ErrorCategoryData    = "data"
	ErrorCategoryAuth    = "auth"
	ErrorCategoryPolicy  = "policy"
	ErrorCategoryStorage = "storage"
)

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryNetwork:
		return ErrorCategoryNetwork
	case ErrorCategoryAuth:
		return ErrorCategoryAuth
	case ErrorCategoryPolicy:
		return ErrorCategoryPolicy
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	default:
		return ErrorCategoryData
	}
}

type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		return e.Category
	}
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	return ErrorCategoryData
}

// IsPolicyFault classifies backend access-control misconfiguration, which the
// backend signals inside ordinary query error text. It is fatal: the caller
// must stop retrying and surface a blocking recovery screen.
func IsPolicyFault(err error) bool {
	if err == nil {
		return false
	}
	if ErrorCategory(err) == ErrorCategoryPolicy {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "recursion") || strings.Contains(msg, "policy")
}
