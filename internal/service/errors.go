package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/tier"
)

// ErrForbidden is returned when the actor may not touch the requested seller.
var ErrForbidden = errors.New("forbidden")

// Error is the structured failure returned by every ledger operation. Kind is
// one of the store sentinels (or ErrForbidden) so callers branch with
// errors.Is; Retryable is set only for concurrency conflicts.
type Error struct {
	Kind      error
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, code string, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: errors.Is(kind, store.ErrConflict),
	}
}

var kinds = []struct {
	kind   error
	suffix string
}{
	{store.ErrNotFound, "not_found"},
	{store.ErrInvalidState, "invalid_state"},
	{store.ErrInsufficientBalance, "insufficient_balance"},
	{store.ErrBusinessRule, "business_rule"},
	{store.ErrValidation, "validation"},
	{store.ErrConflict, "conflict"},
	{ErrForbidden, "forbidden"},
}

// classify turns a store or domain error into an *Error under the given code
// prefix. Infrastructure errors pass through untouched.
func classify(err error, prefix string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, tier.ErrInvalidTier) {
		return newError(store.ErrValidation, prefix+".validation", "%s", err.Error())
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return newError(k.kind, prefix+"."+k.suffix, "%s", err.Error())
		}
	}
	return err
}

func validationError(code string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return newError(store.ErrValidation, code, "%s", strings.Join(fields, "; "))
	}
	return newError(store.ErrValidation, code, "%s", err.Error())
}
