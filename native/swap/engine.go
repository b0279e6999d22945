package swap

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"tokenswap/core/events"
	"tokenswap/core/types"
)

// BalanceSource reports the module-held balance of a token, queried from the
// host ledger. It is read-only from the engine's perspective.
type BalanceSource interface {
	Balance(token string) (*big.Int, error)
}

// CancelPolicy selects which parties may cancel a pending agreement.
type CancelPolicy uint8

const (
	// CancelByEitherParty lets both the initiator and the counterparty
	// cancel. This is the default.
	CancelByEitherParty CancelPolicy = iota
	// CancelByInitiatorOnly restricts cancellation to the initiator.
	CancelByInitiatorOnly
)

// RefundPolicy selects how cancellation settles already-made deposits.
type RefundPolicy uint8

const (
	// RefundBestEffort refunds each side whose deposit the module can
	// confirm it actually holds, skipping the rest silently. A counterparty
	// who never accepted made no deposit and therefore gets nothing.
	RefundBestEffort RefundPolicy = iota
	// RefundDeferred assumes deposits are not held during pending states,
	// so cancellation plans no transfers at all.
	RefundDeferred
)

// Policy bundles the behavioural knobs that varied across historical
// deployments of this module.
type Policy struct {
	Cancel CancelPolicy
	Refund RefundPolicy
	// AllowSelfCounterparty disables the distinct-parties check at
	// initiation. Off by default.
	AllowSelfCounterparty bool
}

// SettleFunc applies planned transfer instructions as one atomic unit: every
// instruction lands or none does.
type SettleFunc func([]TransferInstruction) error

// Engine guards agreement state transitions and plans the outbound transfers
// each settlement requires. It never moves funds itself: the configured
// settle hook applies planned instructions before the terminal status is
// persisted, so a failed settlement leaves the agreement in its prior state.
type Engine struct {
	mu       sync.Mutex
	store    *Store
	balances BalanceSource
	emitter  events.Emitter
	settleFn SettleFunc
	policy   Policy
	nowFn    func() int64
}

// NewEngine creates a swap engine with default policy and a no-op emitter.
func NewEngine(store *Store) *Engine {
	return &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetBalanceSource configures the ledger view used for settlement checks.
func (e *Engine) SetBalanceSource(src BalanceSource) { e.balances = src }

// SetPolicy overrides the behavioural policy.
func (e *Engine) SetPolicy(p Policy) { e.policy = p }

// SetSettlement configures the hook that applies planned transfers. Without
// one, instructions are only returned for the caller to apply.
func (e *Engine) SetSettlement(settle SettleFunc) { e.settleFn = settle }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Store exposes the backing agreement store for read-only query serving.
func (e *Engine) Store() *Store { return e.store }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) settle(instructions []TransferInstruction) error {
	if e.settleFn == nil || len(instructions) == 0 {
		return nil
	}
	return e.settleFn(instructions)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(agreementEvent{evt: evt})
}

// matchFunds enforces the attached-funds exactness rule: any entry naming a
// foreign asset fails first, then the required asset must be present with
// exactly the required amount.
func matchFunds(funds []Coin, token TokenInfo) error {
	for _, coin := range funds {
		if coin.Token != token.Address {
			return &UnexpectedFundsError{Expected: token.Address, Found: coin.Token}
		}
	}
	for _, coin := range funds {
		if coin.Token != token.Address {
			continue
		}
		sent := big.NewInt(0)
		if coin.Amount != nil {
			sent = coin.Amount
		}
		if sent.Cmp(token.Amount) != 0 {
			return &IncorrectFundsAmountError{Expected: token.Amount.String(), Found: sent.String()}
		}
		return nil
	}
	return &InsufficientFundsError{}
}

func (e *Engine) checkModuleFunds(token TokenInfo) error {
	if e.balances == nil {
		return errNilBalances
	}
	held, err := e.balances.Balance(token.Address)
	if err != nil {
		return err
	}
	if held == nil {
		held = big.NewInt(0)
	}
	if held.Cmp(token.Amount) < 0 {
		return &InsufficientContractFundsError{Expected: token.Amount.String(), Found: held.String()}
	}
	return nil
}

// refundable reports whether the module verifiably holds a side's deposit.
// Only a genuine shortfall reads as "not refundable"; any other failure is
// surfaced to the caller.
func (e *Engine) refundable(token TokenInfo) (bool, error) {
	err := e.checkModuleFunds(token)
	if err == nil {
		return true, nil
	}
	var short *InsufficientContractFundsError
	if errors.As(err, &short) {
		return false, nil
	}
	return false, err
}

func callerIsParty(caller string, a *Agreement) error {
	if caller != a.Initiator && caller != a.Counterparty {
		return &UnauthorizedError{
			Expected: a.Initiator + " or " + a.Counterparty,
			Found:    caller,
		}
	}
	return nil
}

func requireStatus(a *Agreement, allowed ...AgreementStatus) error {
	for _, status := range allowed {
		if a.Status == status {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, status := range allowed {
		names[i] = status.String()
	}
	return &InvalidStatusError{Expected: strings.Join(names, ", "), Found: a.Status.String()}
}

// Initiate creates a new agreement in the initiated state. The caller becomes
// the initiator and must attach exactly the initiator token deposit.
func (e *Engine) Initiate(caller string, funds []Coin, initiatorToken, counterpartyToken TokenInfo, counterparty string) (*Agreement, error) {
	if e == nil || e.store == nil {
		return nil, errNilState
	}
	caller = strings.TrimSpace(caller)
	counterparty = strings.TrimSpace(counterparty)
	initiatorToken, err := SanitizeTokenInfo(initiatorToken)
	if err != nil {
		return nil, err
	}
	counterpartyToken, err = SanitizeTokenInfo(counterpartyToken)
	if err != nil {
		return nil, err
	}
	if err := matchFunds(funds, initiatorToken); err != nil {
		return nil, err
	}
	if !e.policy.AllowSelfCounterparty && caller == counterparty {
		return nil, &InvalidCounterpartyError{Initiator: caller, Counterparty: counterparty}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.store.AllocateID()
	if err != nil {
		return nil, err
	}
	agreement := &Agreement{
		ID:                id,
		Initiator:         caller,
		Counterparty:      counterparty,
		InitiatorToken:    initiatorToken,
		CounterpartyToken: counterpartyToken,
		Status:            StatusInitiated,
		CreatedAt:         e.now(),
	}
	if err := e.store.Insert(agreement); err != nil {
		return nil, err
	}
	e.emit(NewInitiatedEvent(agreement))
	return agreement.Clone(), nil
}

// Accept records the counterparty's matching deposit and moves the agreement
// to accepted. Only the stored counterparty may accept.
func (e *Engine) Accept(caller string, funds []Coin, id uint64) (*Agreement, error) {
	if e == nil || e.store == nil {
		return nil, errNilState
	}
	caller = strings.TrimSpace(caller)

	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if caller != agreement.Counterparty {
		return nil, &UnauthorizedError{Expected: agreement.Counterparty, Found: caller}
	}
	if err := matchFunds(funds, agreement.CounterpartyToken); err != nil {
		return nil, err
	}
	if err := requireStatus(agreement, StatusInitiated); err != nil {
		return nil, err
	}
	updated, err := e.store.UpdateStatus(agreement, StatusAccepted)
	if err != nil {
		return nil, err
	}
	e.emit(NewAcceptedEvent(updated))
	return updated.Clone(), nil
}

// Execute settles an accepted agreement by planning the two transfers that
// cross the deposits: the initiator's deposit goes to the counterparty and
// vice versa. Either party may trigger execution.
func (e *Engine) Execute(caller string, id uint64) (*Agreement, []TransferInstruction, error) {
	if e == nil || e.store == nil {
		return nil, nil, errNilState
	}
	caller = strings.TrimSpace(caller)

	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, err := e.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if err := callerIsParty(caller, agreement); err != nil {
		return nil, nil, err
	}
	if err := requireStatus(agreement, StatusAccepted); err != nil {
		return nil, nil, err
	}
	// Initiator token first: the reported insufficiency must be
	// deterministic.
	if err := e.checkModuleFunds(agreement.InitiatorToken); err != nil {
		return nil, nil, err
	}
	if err := e.checkModuleFunds(agreement.CounterpartyToken); err != nil {
		return nil, nil, err
	}

	instructions := []TransferInstruction{
		{
			To:     agreement.Counterparty,
			Token:  agreement.InitiatorToken.Address,
			Amount: new(big.Int).Set(agreement.InitiatorToken.Amount),
		},
		{
			To:     agreement.Initiator,
			Token:  agreement.CounterpartyToken.Address,
			Amount: new(big.Int).Set(agreement.CounterpartyToken.Amount),
		},
	}
	// The per-token checks above do not account for two legs drawing on the
	// same token, so the settle hook may still refuse. It applies all legs or
	// none, and runs before the status write so a refusal aborts cleanly.
	if err := e.settle(instructions); err != nil {
		return nil, nil, err
	}

	updated, err := e.store.UpdateStatus(agreement, StatusExecuted)
	if err != nil {
		return nil, nil, err
	}
	e.emit(NewExecutedEvent(updated))
	return updated.Clone(), instructions, nil
}

// Cancel aborts a pending agreement and plans refunds according to the refund
// policy. Callers are restricted by the cancel policy.
func (e *Engine) Cancel(caller string, id uint64) (*Agreement, []TransferInstruction, error) {
	if e == nil || e.store == nil {
		return nil, nil, errNilState
	}
	caller = strings.TrimSpace(caller)

	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, err := e.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	switch e.policy.Cancel {
	case CancelByInitiatorOnly:
		if caller != agreement.Initiator {
			return nil, nil, &UnauthorizedError{Expected: agreement.Initiator, Found: caller}
		}
	default:
		if err := callerIsParty(caller, agreement); err != nil {
			return nil, nil, err
		}
	}
	if err := requireStatus(agreement, StatusInitiated, StatusAccepted); err != nil {
		return nil, nil, err
	}

	instructions := []TransferInstruction{}
	if e.policy.Refund == RefundBestEffort {
		// Refund only sides whose deposit the module verifiably holds.
		// A genuine shortfall is a skip, not an error: an unfunded side
		// made no deposit worth returning. Anything else, such as a
		// missing balance source, still fails the call.
		refundInitiator, err := e.refundable(agreement.InitiatorToken)
		if err != nil {
			return nil, nil, err
		}
		if refundInitiator {
			instructions = append(instructions, TransferInstruction{
				To:     agreement.Initiator,
				Token:  agreement.InitiatorToken.Address,
				Amount: new(big.Int).Set(agreement.InitiatorToken.Amount),
			})
		}
		refundCounterparty, err := e.refundable(agreement.CounterpartyToken)
		if err != nil {
			return nil, nil, err
		}
		if refundCounterparty {
			instructions = append(instructions, TransferInstruction{
				To:     agreement.Counterparty,
				Token:  agreement.CounterpartyToken.Address,
				Amount: new(big.Int).Set(agreement.CounterpartyToken.Amount),
			})
		}
	}
	if err := e.settle(instructions); err != nil {
		return nil, nil, err
	}

	updated, err := e.store.UpdateStatus(agreement, StatusCanceled)
	if err != nil {
		return nil, nil, err
	}
	e.emit(NewCanceledEvent(updated))
	return updated.Clone(), instructions, nil
}
