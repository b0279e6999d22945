package swap

import (
	"fmt"
	"math/big"
	"strings"
)

// AgreementStatus represents the lifecycle states of a swap agreement.
type AgreementStatus uint8

const (
	StatusInitiated AgreementStatus = iota
	StatusAccepted
	StatusExecuted
	StatusCanceled
)

const maxAmountBits = 128

// statusTransitions is the closed transition table. Terminal states have no
// outgoing edges; cancellation is reachable from both pending states.
var statusTransitions = map[AgreementStatus][]AgreementStatus{
	StatusInitiated: {StatusAccepted, StatusCanceled},
	StatusAccepted:  {StatusExecuted, StatusCanceled},
	StatusExecuted:  {},
	StatusCanceled:  {},
}

// Valid reports whether the status value is within the supported range.
func (s AgreementStatus) Valid() bool {
	switch s {
	case StatusInitiated, StatusAccepted, StatusExecuted, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s AgreementStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCanceled
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s AgreementStatus) CanTransition(next AgreementStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s AgreementStatus) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusAccepted:
		return "accepted"
	case StatusExecuted:
		return "executed"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus resolves the canonical textual form of a status.
func ParseStatus(raw string) (AgreementStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "initiated":
		return StatusInitiated, nil
	case "accepted":
		return StatusAccepted, nil
	case "executed":
		return StatusExecuted, nil
	case "canceled":
		return StatusCanceled, nil
	default:
		return 0, fmt.Errorf("swap: unknown agreement status %q", raw)
	}
}

// TokenInfo describes a required deposit: a fixed quantity of one fungible
// asset. Values are immutable once embedded in an agreement.
type TokenInfo struct {
	Address string
	Amount  *big.Int
}

// Clone returns a deep copy so callers can mutate it freely.
func (t TokenInfo) Clone() TokenInfo {
	clone := t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

func (t TokenInfo) describe() string {
	amount := "0"
	if t.Amount != nil {
		amount = t.Amount.String()
	}
	return fmt.Sprintf("%s:%s", t.Address, amount)
}

// SanitizeTokenInfo validates and normalises a token descriptor. Amounts are
// bounded to 128 bits to stay within the host ledger's accounting width.
func SanitizeTokenInfo(t TokenInfo) (TokenInfo, error) {
	clone := t.Clone()
	clone.Address = strings.TrimSpace(clone.Address)
	if clone.Address == "" {
		return TokenInfo{}, fmt.Errorf("swap: token address must not be empty")
	}
	if clone.Amount.Sign() < 0 {
		return TokenInfo{}, fmt.Errorf("swap: token amount must be non-negative")
	}
	if clone.Amount.BitLen() > maxAmountBits {
		return TokenInfo{}, fmt.Errorf("swap: token amount exceeds 128 bits")
	}
	return clone, nil
}

// Agreement captures a two-party escrowed token swap: the initiator locks
// InitiatorToken, the counterparty locks CounterpartyToken, and settlement
// crosses the two deposits.
type Agreement struct {
	ID                uint64
	Initiator         string
	Counterparty      string
	InitiatorToken    TokenInfo
	CounterpartyToken TokenInfo
	Status            AgreementStatus
	CreatedAt         int64
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.InitiatorToken = a.InitiatorToken.Clone()
	clone.CounterpartyToken = a.CounterpartyToken.Clone()
	return &clone
}

// SanitizeAgreement validates and normalises the supplied agreement, returning
// a cloned instance. The original value is not mutated.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("swap: nil agreement")
	}
	clone := a.Clone()
	clone.Initiator = strings.TrimSpace(clone.Initiator)
	clone.Counterparty = strings.TrimSpace(clone.Counterparty)
	if clone.Initiator == "" {
		return nil, fmt.Errorf("swap: initiator must not be empty")
	}
	if clone.Counterparty == "" {
		return nil, fmt.Errorf("swap: counterparty must not be empty")
	}
	var err error
	if clone.InitiatorToken, err = SanitizeTokenInfo(clone.InitiatorToken); err != nil {
		return nil, err
	}
	if clone.CounterpartyToken, err = SanitizeTokenInfo(clone.CounterpartyToken); err != nil {
		return nil, err
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("swap: invalid agreement status: %d", clone.Status)
	}
	return clone, nil
}

// Coin is a funds entry attached to a mutating call, treated as already
// transferred to the module atomically with the call.
type Coin struct {
	Token  string
	Amount *big.Int
}

// TransferInstruction is a planned outbound payment. The engine only plans
// transfers; applying them against the ledger is the host's job.
type TransferInstruction struct {
	To     string
	Token  string
	Amount *big.Int
}
