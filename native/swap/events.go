package swap

import (
	"strconv"

	"tokenswap/core/types"
)

const (
	EventTypeAgreementInitiated = "swap.agreement.initiated"
	EventTypeAgreementAccepted  = "swap.agreement.accepted"
	EventTypeAgreementExecuted  = "swap.agreement.executed"
	EventTypeAgreementCanceled  = "swap.agreement.canceled"
)

// agreementEvent adapts an event payload to the events.Event interface.
type agreementEvent struct {
	evt *types.Event
}

func (e agreementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e agreementEvent) Event() *types.Event { return e.evt }

// NewInitiatedEvent returns the canonical payload for a newly initiated
// agreement.
func NewInitiatedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementInitiated, a)
}

// NewAcceptedEvent returns the canonical payload emitted when the counterparty
// accepts.
func NewAcceptedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementAccepted, a)
}

// NewExecutedEvent returns the canonical payload for a settled agreement.
func NewExecutedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementExecuted, a)
}

// NewCanceledEvent returns the canonical payload for a canceled agreement.
func NewCanceledEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementCanceled, a)
}

func newAgreementEvent(typ string, a *Agreement) *types.Event {
	if a == nil {
		return &types.Event{Type: typ, Attributes: map[string]string{}}
	}
	return &types.Event{
		Type: typ,
		Attributes: map[string]string{
			"id":                strconv.FormatUint(a.ID, 10),
			"initiator":         a.Initiator,
			"counterparty":      a.Counterparty,
			"initiatorToken":    a.InitiatorToken.describe(),
			"counterpartyToken": a.CounterpartyToken.describe(),
			"status":            a.Status.String(),
		},
	}
}
