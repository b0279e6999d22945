package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"tokenswap/native/bank"
	"tokenswap/native/swap"
)

const (
	codeSwapInvalidParams = -32021
	codeSwapNotFound      = -32022
	codeSwapForbidden     = -32023
	codeSwapConflict      = -32024
	codeSwapInternal      = -32025
	codeSwapFunds         = -32026
)

type tokenInfoJSON struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type coinJSON struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type agreementJSON struct {
	ID                uint64        `json:"id"`
	Initiator         string        `json:"initiator"`
	Counterparty      string        `json:"counterparty"`
	InitiatorToken    tokenInfoJSON `json:"initiatorToken"`
	CounterpartyToken tokenInfoJSON `json:"counterpartyToken"`
	Status            string        `json:"status"`
	CreatedAt         int64         `json:"createdAt"`
}

type transferJSON struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type swapInitiateParams struct {
	Caller            string        `json:"caller"`
	Funds             []coinJSON    `json:"funds"`
	InitiatorToken    tokenInfoJSON `json:"initiatorToken"`
	CounterpartyToken tokenInfoJSON `json:"counterpartyToken"`
	Counterparty      string        `json:"counterparty"`
}

type swapAcceptParams struct {
	Caller string     `json:"caller"`
	Funds  []coinJSON `json:"funds"`
	ID     uint64     `json:"id"`
}

type swapActionParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type swapIDParams struct {
	ID uint64 `json:"id"`
}

type swapListByAddressParams struct {
	Address  string `json:"address"`
	Page     uint64 `json:"page"`
	PageSize uint64 `json:"pageSize"`
}

type swapListByStatusParams struct {
	Status   string `json:"status"`
	Page     uint64 `json:"page"`
	PageSize uint64 `json:"pageSize"`
}

type swapInitiateResult struct {
	ID        uint64        `json:"id"`
	Agreement agreementJSON `json:"agreement"`
}

type agreementResult struct {
	Agreement agreementJSON  `json:"agreement"`
	Transfers []transferJSON `json:"transfers,omitempty"`
}

type agreementsResult struct {
	Agreements []agreementJSON `json:"agreements"`
}

type countsResult struct {
	Total     uint64 `json:"total"`
	Initiated uint64 `json:"initiated"`
	Accepted  uint64 `json:"accepted"`
	Executed  uint64 `json:"executed"`
	Canceled  uint64 `json:"canceled"`
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func toTokenInfo(t tokenInfoJSON) (swap.TokenInfo, error) {
	amount, err := parseAmount(t.Amount)
	if err != nil {
		return swap.TokenInfo{}, err
	}
	return swap.TokenInfo{Address: strings.TrimSpace(t.Address), Amount: amount}, nil
}

func toCoins(raw []coinJSON) ([]swap.Coin, error) {
	coins := make([]swap.Coin, 0, len(raw))
	for _, c := range raw {
		amount, err := parseAmount(c.Amount)
		if err != nil {
			return nil, err
		}
		coins = append(coins, swap.Coin{Token: strings.TrimSpace(c.Token), Amount: amount})
	}
	return coins, nil
}

func tokenToJSON(t swap.TokenInfo) tokenInfoJSON {
	amount := "0"
	if t.Amount != nil {
		amount = t.Amount.String()
	}
	return tokenInfoJSON{Address: t.Address, Amount: amount}
}

func agreementToJSON(a *swap.Agreement) agreementJSON {
	return agreementJSON{
		ID:                a.ID,
		Initiator:         a.Initiator,
		Counterparty:      a.Counterparty,
		InitiatorToken:    tokenToJSON(a.InitiatorToken),
		CounterpartyToken: tokenToJSON(a.CounterpartyToken),
		Status:            a.Status.String(),
		CreatedAt:         a.CreatedAt,
	}
}

func transfersToJSON(instructions []swap.TransferInstruction) []transferJSON {
	out := make([]transferJSON, 0, len(instructions))
	for _, instr := range instructions {
		out = append(out, transferJSON{To: instr.To, Token: instr.Token, Amount: instr.Amount.String()})
	}
	return out
}

func agreementsToJSON(agreements []*swap.Agreement) []agreementJSON {
	out := make([]agreementJSON, 0, len(agreements))
	for _, a := range agreements {
		out = append(out, agreementToJSON(a))
	}
	return out
}

// swapError maps the engine's typed failures onto JSON-RPC status/code pairs.
func swapError(err error) (int, int) {
	var notFound *swap.NotFoundError
	var unauthorized *swap.UnauthorizedError
	var invalidCounterparty *swap.InvalidCounterpartyError
	var invalidStatus *swap.InvalidStatusError
	var insufficientFunds *swap.InsufficientFundsError
	var unexpectedFunds *swap.UnexpectedFundsError
	var incorrectAmount *swap.IncorrectFundsAmountError
	var insufficientContract *swap.InsufficientContractFundsError
	switch {
	case errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusBadRequest, codeSwapFunds
	case errors.As(err, &notFound):
		return http.StatusNotFound, codeSwapNotFound
	case errors.As(err, &unauthorized):
		return http.StatusForbidden, codeSwapForbidden
	case errors.As(err, &invalidCounterparty):
		return http.StatusBadRequest, codeSwapInvalidParams
	case errors.As(err, &invalidStatus):
		return http.StatusConflict, codeSwapConflict
	case errors.As(err, &insufficientFunds),
		errors.As(err, &unexpectedFunds),
		errors.As(err, &incorrectAmount),
		errors.As(err, &insufficientContract):
		return http.StatusBadRequest, codeSwapFunds
	default:
		return http.StatusInternalServerError, codeSwapInternal
	}
}

func (s *Server) writeSwapError(w http.ResponseWriter, req *RPCRequest, err error) {
	s.metrics.ObserveFailure(req.Method)
	status, code := swapError(err)
	writeError(w, status, req.ID, code, err.Error(), nil)
}

// depositFunds moves the attached coins from the caller to the module vault,
// standing in for the host's deposit-accompanying-call mechanism.
func (s *Server) depositFunds(caller string, coins []swap.Coin) error {
	for i, coin := range coins {
		if err := s.ledger.Transfer(caller, s.vault, coin.Token, coin.Amount); err != nil {
			// Roll back the entries already moved so a failed call
			// leaves balances untouched.
			s.returnFunds(caller, coins[:i])
			return err
		}
	}
	return nil
}

// returnFunds gives deposits back to the caller after a rejected call.
func (s *Server) returnFunds(caller string, coins []swap.Coin) {
	for _, coin := range coins {
		if err := s.ledger.Transfer(s.vault, caller, coin.Token, coin.Amount); err != nil {
			s.logger.Error("failed to return deposit",
				slog.String("caller", caller),
				slog.String("token", coin.Token),
				slog.Any("error", err))
		}
	}
}

// settle applies planned instructions out of the module vault as one atomic
// ledger write. The engine invokes it before committing a terminal status,
// so a refused settlement leaves both the ledger and the agreement untouched.
func (s *Server) settle(instructions []swap.TransferInstruction) error {
	if len(instructions) == 0 {
		return nil
	}
	legs := make([]bank.Transfer, 0, len(instructions))
	for _, instr := range instructions {
		legs = append(legs, bank.Transfer{To: instr.To, Token: instr.Token, Amount: instr.Amount})
	}
	if err := s.ledger.TransferAll(s.vault, legs); err != nil {
		return err
	}
	s.metrics.ObserveTransfers(len(instructions))
	return nil
}

func (s *Server) handleInitiate(w http.ResponseWriter, req *RPCRequest) {
	var params swapInitiateParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	initiatorToken, err := toTokenInfo(params.InitiatorToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "initiatorToken: "+err.Error(), nil)
		return
	}
	counterpartyToken, err := toTokenInfo(params.CounterpartyToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "counterpartyToken: "+err.Error(), nil)
		return
	}
	funds, err := toCoins(params.Funds)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "funds: "+err.Error(), nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.depositFunds(params.Caller, funds); err != nil {
		if errors.Is(err, bank.ErrInsufficientBalance) {
			writeError(w, http.StatusBadRequest, req.ID, codeSwapFunds, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeSwapInternal, err.Error(), nil)
		return
	}
	agreement, err := s.engine.Initiate(params.Caller, funds, initiatorToken, counterpartyToken, params.Counterparty)
	if err != nil {
		s.returnFunds(params.Caller, funds)
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, swapInitiateResult{ID: agreement.ID, Agreement: agreementToJSON(agreement)})
}

func (s *Server) handleAccept(w http.ResponseWriter, req *RPCRequest) {
	var params swapAcceptParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	funds, err := toCoins(params.Funds)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "funds: "+err.Error(), nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.depositFunds(params.Caller, funds); err != nil {
		if errors.Is(err, bank.ErrInsufficientBalance) {
			writeError(w, http.StatusBadRequest, req.ID, codeSwapFunds, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeSwapInternal, err.Error(), nil)
		return
	}
	agreement, err := s.engine.Accept(params.Caller, funds, params.ID)
	if err != nil {
		s.returnFunds(params.Caller, funds)
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementResult{Agreement: agreementToJSON(agreement)})
}

func (s *Server) handleExecute(w http.ResponseWriter, req *RPCRequest) {
	var params swapActionParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	agreement, instructions, err := s.engine.Execute(params.Caller, params.ID)
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementResult{
		Agreement: agreementToJSON(agreement),
		Transfers: transfersToJSON(instructions),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, req *RPCRequest) {
	var params swapActionParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	agreement, instructions, err := s.engine.Cancel(params.Caller, params.ID)
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementResult{
		Agreement: agreementToJSON(agreement),
		Transfers: transfersToJSON(instructions),
	})
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, req *RPCRequest) {
	var params swapIDParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	agreement, err := s.engine.Store().Get(params.ID)
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementResult{Agreement: agreementToJSON(agreement)})
}

func (s *Server) handleListByInitiator(w http.ResponseWriter, req *RPCRequest) {
	var params swapListByAddressParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	agreements, err := s.engine.Store().ByInitiator(strings.TrimSpace(params.Address), params.Page, params.PageSize)
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementsResult{Agreements: agreementsToJSON(agreements)})
}

func (s *Server) handleListByCounterparty(w http.ResponseWriter, req *RPCRequest) {
	var params swapListByAddressParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	agreements, err := s.engine.Store().ByCounterparty(strings.TrimSpace(params.Address), params.Page, params.PageSize)
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementsResult{Agreements: agreementsToJSON(agreements)})
}

func (s *Server) handleListByStatus(w http.ResponseWriter, req *RPCRequest) {
	var params swapListByStatusParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	status, err := swap.ParseStatus(params.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, err.Error(), nil)
		return
	}
	agreements, err := s.engine.Store().ByStatus(status, params.Page, params.PageSize)
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, agreementsResult{Agreements: agreementsToJSON(agreements)})
}

func (s *Server) handleCounts(w http.ResponseWriter, req *RPCRequest) {
	counts, err := s.engine.Store().Counts()
	if err != nil {
		s.writeSwapError(w, req, err)
		return
	}
	writeResult(w, req.ID, countsResult{
		Total:     counts.Total,
		Initiated: counts.Initiated,
		Accepted:  counts.Accepted,
		Executed:  counts.Executed,
		Canceled:  counts.Canceled,
	})
}
