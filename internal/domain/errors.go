package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrWeakPassword        = errors.New("password too weak")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrPaymentMismatch     = errors.New("payment total does not match sale total")
	ErrNegativeStock       = errors.New("stock cannot go negative")
	ErrReturnWindowExpired = errors.New("return window expired")
	ErrAuth                = errors.New("authentication failed")
	ErrForbidden           = errors.New("forbidden")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrStorage             = errors.New("storage failure")
)

// ValidationError reports bad input shape. No state is changed.
type ValidationError struct {
	Field  string
	Reason string
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type WeakPasswordError struct {
	MinLength int
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("password must be at least %d characters long", e.MinLength)
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword || target == ErrValidation
}

type InsufficientStockError struct {
	SKUID     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d", e.SKUID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type PaymentMismatchError struct {
	Expected decimal.Decimal
	Paid     decimal.Decimal
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("payments total %s does not match sale total %s", e.Paid.StringFixed(2), e.Expected.StringFixed(2))
}

func (e *PaymentMismatchError) Is(target error) bool {
	return target == ErrPaymentMismatch
}

type NegativeStockError struct {
	SKUID    string
	Previous int
	Change   int
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("movement of %d on sku %s would leave stock at %d", e.Change, e.SKUID, e.Previous+e.Change)
}

func (e *NegativeStockError) Is(target error) bool {
	return target == ErrNegativeStock
}

type ReturnWindowExpiredError struct {
	SaleID     string
	DaysSince  int
	PolicyDays int
}

func (e *ReturnWindowExpiredError) Error() string {
	return fmt.Sprintf("sale %s is %d days old, return window is %d days", e.SaleID, e.DaysSince, e.PolicyDays)
}

func (e *ReturnWindowExpiredError) Is(target error) bool {
	return target == ErrReturnWindowExpired
}

type AuthFailure string

const (
	AuthInvalidCredential AuthFailure = "invalid_credential"
	AuthLocked            AuthFailure = "locked"
	AuthInactive          AuthFailure = "inactive"
)

// AuthError carries the failure kind for logs and the audit trail. Its message
// is the same for every kind so callers cannot tell which usernames exist.
type AuthError struct {
	Kind AuthFailure
}

func (e *AuthError) Error() string {
	return "invalid username or password"
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

type ForbiddenError struct {
	Capability Capability
}

func (e *ForbiddenError) Error() string {
	if e.Capability == "" {
		return "forbidden"
	}
	return fmt.Sprintf("forbidden: %s capability required", e.Capability)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ConcurrencyConflictError means the whole operation should be retried.
type ConcurrencyConflictError struct {
	Entity string
	Err    error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("concurrent update conflict on %s", e.Entity)
	}
	return fmt.Sprintf("concurrent update conflict on %s: %v", e.Entity, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsBusinessRule reports whether err is a rule violation rather than bad input
// or an infrastructure failure.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPaymentMismatch) ||
		errors.Is(err, ErrNegativeStock) ||
		errors.Is(err, ErrReturnWindowExpired)
}
