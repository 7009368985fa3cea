package acts

import (
	"errors"
	"fmt"
)

// ActError represents a validation failure for a ledger act.
//
// Every ActError is recoverable by the caller: the act is simply not
// performed, state and gauge are unchanged, and the message is suitable
// for display. No act failure is fatal to the process.
type ActError struct {
	// Code identifies the failure category.
	Code ActErrorCode

	// Message is a human-readable description.
	Message string

	// AccountID identifies the affected account, when relevant.
	AccountID string

	// Currency identifies the affected currency, when relevant.
	Currency string
}

// ActErrorCode categorizes act validation failures.
type ActErrorCode string

const (
	// ErrCodeSystemHalted indicates the global kill switch is engaged.
	ErrCodeSystemHalted ActErrorCode = "SYSTEM_HALTED"

	// ErrCodeVibrationExceeded indicates the gauge is at or above the soft gate.
	ErrCodeVibrationExceeded ActErrorCode = "VIBRATION_EXCEEDED"

	// ErrCodeInvalidAmount indicates a non-positive, NaN, or out-of-range amount.
	ErrCodeInvalidAmount ActErrorCode = "INVALID_AMOUNT"

	// ErrCodeUnknownCurrency indicates a currency outside the configured set.
	ErrCodeUnknownCurrency ActErrorCode = "UNKNOWN_CURRENCY"

	// ErrCodeAccountNotFound indicates a missing sender or recipient account.
	ErrCodeAccountNotFound ActErrorCode = "ACCOUNT_NOT_FOUND"

	// ErrCodeInsufficientBalance indicates the sender cannot cover the amount.
	ErrCodeInsufficientBalance ActErrorCode = "INSUFFICIENT_BALANCE"

	// ErrCodeSameCurrency indicates an exchange between identical currencies.
	ErrCodeSameCurrency ActErrorCode = "SAME_CURRENCY"

	// ErrCodeDuplicateAccountID indicates an account id that already exists.
	ErrCodeDuplicateAccountID ActErrorCode = "DUPLICATE_ACCOUNT_ID"

	// ErrCodeInvalidAccountID indicates an empty or malformed account id.
	ErrCodeInvalidAccountID ActErrorCode = "INVALID_ACCOUNT_ID"

	// ErrCodeUnknownInfraKey indicates an infrastructure channel outside
	// the defined set.
	ErrCodeUnknownInfraKey ActErrorCode = "UNKNOWN_INFRA_KEY"
)

// Error implements the error interface.
func (e *ActError) Error() string {
	switch {
	case e.AccountID != "" && e.Currency != "":
		return fmt.Sprintf("%s: %s (account=%s, currency=%s)", e.Code, e.Message, e.AccountID, e.Currency)
	case e.AccountID != "":
		return fmt.Sprintf("%s: %s (account=%s)", e.Code, e.Message, e.AccountID)
	case e.Currency != "":
		return fmt.Sprintf("%s: %s (currency=%s)", e.Code, e.Message, e.Currency)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// CodeOf extracts the ActErrorCode from an error.
// Returns empty string if the error is not an ActError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ActErrorCode {
	var ae *ActError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsHalted reports whether the error is a SYSTEM_HALTED rejection.
func IsHalted(err error) bool {
	return CodeOf(err) == ErrCodeSystemHalted
}

// IsVibrationExceeded reports whether the error is a gauge-gate rejection.
func IsVibrationExceeded(err error) bool {
	return CodeOf(err) == ErrCodeVibrationExceeded
}

func haltedError() *ActError {
	return &ActError{
		Code:    ErrCodeSystemHalted,
		Message: "system is halted",
	}
}

func vibrationError(value float64) *ActError {
	return &ActError{
		Code:    ErrCodeVibrationExceeded,
		Message: fmt.Sprintf("vibration level %.2f at or above limit", value),
	}
}

func invalidAmountError(amount float64) *ActError {
	return &ActError{
		Code:    ErrCodeInvalidAmount,
		Message: fmt.Sprintf("invalid amount %v", amount),
	}
}

func unknownCurrencyError(currency string) *ActError {
	return &ActError{
		Code:     ErrCodeUnknownCurrency,
		Message:  "currency is not in the configured set",
		Currency: currency,
	}
}

func accountNotFoundError(id string) *ActError {
	return &ActError{
		Code:      ErrCodeAccountNotFound,
		Message:   "account does not exist",
		AccountID: id,
	}
}

func insufficientBalanceError(id, currency string, have, want float64) *ActError {
	return &ActError{
		Code:      ErrCodeInsufficientBalance,
		Message:   fmt.Sprintf("balance %.2f below required %.2f", have, want),
		AccountID: id,
		Currency:  currency,
	}
}
