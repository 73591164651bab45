package transactionapp

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer = errors.New("internal server error")

	// ErrTooManyRequests is returned by the limit and circuit-break
	// middlewares when the service is shedding load. Retryable.
	ErrTooManyRequests = errors.New("too many requests")
)

// Stable codes, one per business-rule check. The transport layer maps all
// of them to 400.
const (
	CodeMessageIDMismatch      = "MESSAGE_ID_MISMATCH"
	CodeDuplicateMessageID     = "DUPLICATE_MESSAGE_ID"
	CodeInvalidTransactionType = "INVALID_TRANSACTION_TYPE"
	CodeInvalidUserID          = "INVALID_USER_ID"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeCurrencyMismatch       = "CURRENCY_MISMATCH"
)

// ValidationError is a terminal, caller-correctable outcome produced by
// exactly one step of the request validation chain.
type ValidationError struct {
	Code   string `json:"code"`
	Detail string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Detail
}

func errMessageIDMismatch(pathID, bodyID string) ValidationError {
	return ValidationError{
		Code:   CodeMessageIDMismatch,
		Detail: fmt.Sprintf("path variable message: %s doesn't match request body message: %s", pathID, bodyID),
	}
}

func errDuplicateMessageID(messageID string) ValidationError {
	return ValidationError{
		Code:   CodeDuplicateMessageID,
		Detail: fmt.Sprintf("message id: %s already exists", messageID),
	}
}

func errInvalidTransactionType(supported string) ValidationError {
	return ValidationError{
		Code:   CodeInvalidTransactionType,
		Detail: fmt.Sprintf("supported transaction type: %s", supported),
	}
}

func errInvalidUserID(userID string) ValidationError {
	return ValidationError{
		Code:   CodeInvalidUserID,
		Detail: fmt.Sprintf("userId provided: %s is not a valid UUID format", userID),
	}
}

func errUserNotFound(userID string) ValidationError {
	return ValidationError{
		Code:   CodeUserNotFound,
		Detail: fmt.Sprintf("user with ID: %s not found", userID),
	}
}

func errCurrencyMismatch(userCurrency, txnCurrency string) ValidationError {
	return ValidationError{
		Code:   CodeCurrencyMismatch,
		Detail: fmt.Sprintf("user currency: %s doesn't match with request body currency: %s", userCurrency, txnCurrency),
	}
}

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

// ErrStorage wraps a persistence failure. The service never reports a
// decision whose commit failed; it surfaces this instead.
type ErrStorage struct {
	Op  string
	Err error
}

func (e ErrStorage) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e ErrStorage) Unwrap() error {
	return e.Err
}
