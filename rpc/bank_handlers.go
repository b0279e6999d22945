package rpc

import (
	"net/http"
	"strings"
)

type bankBalanceParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

type bankMintParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type bankBalanceResult struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *Server) handleBankBalance(w http.ResponseWriter, req *RPCRequest) {
	var params bankBalanceParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	balance, err := s.ledger.Balance(params.Account, params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, bankBalanceResult{
		Account: strings.TrimSpace(params.Account),
		Token:   strings.TrimSpace(params.Token),
		Balance: balance.String(),
	})
}

func (s *Server) handleBankMint(w http.ResponseWriter, req *RPCRequest) {
	var params bankMintParams
	if !s.decodeParams(w, req, &params) {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledger.Mint(params.Account, params.Token, amount); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.ledger.Balance(params.Account, params.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, bankBalanceResult{
		Account: strings.TrimSpace(params.Account),
		Token:   strings.TrimSpace(params.Token),
		Balance: balance.String(),
	})
}
