package swap

import (
	"errors"
	"fmt"
)

var (
	errNilState    = errors.New("swap engine: store not configured")
	errNilBalances = errors.New("swap engine: balance source not configured")
)

// NotFoundError reports that no agreement exists under the referenced id.
type NotFoundError struct {
	ID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agreement %d not found", e.ID)
}

// UnauthorizedError reports a caller identity that does not match the role
// required by the operation.
type UnauthorizedError struct {
	Expected string
	Found    string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: expected %q, but found %q", e.Expected, e.Found)
}

// InvalidCounterpartyError reports an initiation naming the initiator as its
// own counterparty.
type InvalidCounterpartyError struct {
	Initiator    string
	Counterparty string
}

func (e *InvalidCounterpartyError) Error() string {
	return fmt.Sprintf("invalid counterparty: counterparty %q cannot be the same as initiator %q", e.Counterparty, e.Initiator)
}

// InvalidStatusError reports an operation applied to an agreement whose
// current status is outside the permitted set.
type InvalidStatusError struct {
	Expected string
	Found    string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid agreement status: expected %q, but found %q", e.Expected, e.Found)
}

// InsufficientFundsError reports attached funds with no entry for the
// required asset at all.
type InsufficientFundsError struct{}

func (e *InsufficientFundsError) Error() string {
	return "insufficient funds sent"
}

// UnexpectedFundsError reports an attached funds entry naming an asset other
// than the required one.
type UnexpectedFundsError struct {
	Expected string
	Found    string
}

func (e *UnexpectedFundsError) Error() string {
	return fmt.Sprintf("unexpected funds found: expected %q, but found %q", e.Expected, e.Found)
}

// IncorrectFundsAmountError reports the required asset attached with the
// wrong amount.
type IncorrectFundsAmountError struct {
	Expected string
	Found    string
}

func (e *IncorrectFundsAmountError) Error() string {
	return fmt.Sprintf("incorrect funds amount sent: expected %q, but found %q", e.Expected, e.Found)
}

// InsufficientContractFundsError reports a module-held balance below the
// amount a settlement needs.
type InsufficientContractFundsError struct {
	Expected string
	Found    string
}

func (e *InsufficientContractFundsError) Error() string {
	return fmt.Sprintf("insufficient contract funds: expected %q, but found %q", e.Expected, e.Found)
}
