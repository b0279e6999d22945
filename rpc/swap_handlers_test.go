package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"tokenswap/native/bank"
	"tokenswap/native/swap"
	"tokenswap/storage"
)

type testNode struct {
	server *httptest.Server
	ledger *bank.Ledger
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	ledger := bank.NewLedger(db)
	engine := swap.NewEngine(swap.NewStore(db))
	engine.SetBalanceSource(ledger.View("vault"))
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })

	server := httptest.NewServer(NewServer(engine, ledger, "vault", nil).Handler())
	t.Cleanup(server.Close)
	return &testNode{server: server, ledger: ledger}
}

func (n *testNode) call(t *testing.T, method string, params interface{}) (json.RawMessage, *RPCError, int) {
	t.Helper()
	payload, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  []json.RawMessage{mustMarshal(t, params)},
		ID:      1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(n.server.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded.Result, decoded.Error, resp.StatusCode
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func mustBalance(t *testing.T, ledger *bank.Ledger, account, token string) *big.Int {
	t.Helper()
	balance, err := ledger.Balance(account, token)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return balance
}

func initiateParams() swapInitiateParams {
	return swapInitiateParams{
		Caller:            "alice",
		Funds:             []coinJSON{{Token: "tokenA", Amount: "1000"}},
		InitiatorToken:    tokenInfoJSON{Address: "tokenA", Amount: "1000"},
		CounterpartyToken: tokenInfoJSON{Address: "tokenB", Amount: "2000"},
		Counterparty:      "bob",
	}
}

func seedParties(t *testing.T, node *testNode) {
	t.Helper()
	if err := node.ledger.Mint("alice", "tokenA", big.NewInt(1000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := node.ledger.Mint("bob", "tokenB", big.NewInt(2000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
}

func TestSwapLifecycleOverRPC(t *testing.T) {
	node := newTestNode(t)
	seedParties(t, node)

	result, rpcErr, status := node.call(t, "swap_initiate", initiateParams())
	if rpcErr != nil || status != http.StatusOK {
		t.Fatalf("initiate failed: %+v (status %d)", rpcErr, status)
	}
	var initiated swapInitiateResult
	if err := json.Unmarshal(result, &initiated); err != nil {
		t.Fatalf("decode initiate result: %v", err)
	}
	if initiated.ID != 1 || initiated.Agreement.Status != "initiated" {
		t.Fatalf("unexpected initiate result: %+v", initiated)
	}
	if got := mustBalance(t, node.ledger, "vault", "tokenA"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("deposit not moved to vault: %s", got)
	}

	_, rpcErr, status = node.call(t, "swap_accept", swapAcceptParams{
		Caller: "bob",
		Funds:  []coinJSON{{Token: "tokenB", Amount: "2000"}},
		ID:     1,
	})
	if rpcErr != nil || status != http.StatusOK {
		t.Fatalf("accept failed: %+v (status %d)", rpcErr, status)
	}

	result, rpcErr, status = node.call(t, "swap_execute", swapActionParams{Caller: "alice", ID: 1})
	if rpcErr != nil || status != http.StatusOK {
		t.Fatalf("execute failed: %+v (status %d)", rpcErr, status)
	}
	var executed agreementResult
	if err := json.Unmarshal(result, &executed); err != nil {
		t.Fatalf("decode execute result: %v", err)
	}
	if executed.Agreement.Status != "executed" || len(executed.Transfers) != 2 {
		t.Fatalf("unexpected execute result: %+v", executed)
	}
	if executed.Transfers[0].To != "bob" || executed.Transfers[1].To != "alice" {
		t.Fatalf("unexpected transfer order: %+v", executed.Transfers)
	}

	// The deposits crossed hands.
	if got := mustBalance(t, node.ledger, "bob", "tokenA"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("bob should hold 1000 tokenA, has %s", got)
	}
	if got := mustBalance(t, node.ledger, "alice", "tokenB"); got.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("alice should hold 2000 tokenB, has %s", got)
	}
	if got := mustBalance(t, node.ledger, "vault", "tokenA"); got.Sign() != 0 {
		t.Fatalf("vault should be empty of tokenA, has %s", got)
	}
}

func TestCancelBeforeAcceptOverRPC(t *testing.T) {
	node := newTestNode(t)
	seedParties(t, node)

	if _, rpcErr, _ := node.call(t, "swap_initiate", initiateParams()); rpcErr != nil {
		t.Fatalf("initiate failed: %+v", rpcErr)
	}
	result, rpcErr, _ := node.call(t, "swap_cancel", swapActionParams{Caller: "alice", ID: 1})
	if rpcErr != nil {
		t.Fatalf("cancel failed: %+v", rpcErr)
	}
	var canceled agreementResult
	if err := json.Unmarshal(result, &canceled); err != nil {
		t.Fatalf("decode cancel result: %v", err)
	}
	if canceled.Agreement.Status != "canceled" {
		t.Fatalf("unexpected status: %s", canceled.Agreement.Status)
	}
	if len(canceled.Transfers) != 1 || canceled.Transfers[0].To != "alice" {
		t.Fatalf("expected a single refund to alice, got %+v", canceled.Transfers)
	}
	if got := mustBalance(t, node.ledger, "alice", "tokenA"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("refund not applied: %s", got)
	}
	// Bob never deposited, so nothing flows to him.
	if got := mustBalance(t, node.ledger, "bob", "tokenA"); got.Sign() != 0 {
		t.Fatalf("bob must receive nothing, has %s", got)
	}
}

func TestRejectedCallReturnsDeposit(t *testing.T) {
	node := newTestNode(t)
	seedParties(t, node)

	params := initiateParams()
	params.Counterparty = "alice" // self counterparty is rejected
	_, rpcErr, status := node.call(t, "swap_initiate", params)
	if rpcErr == nil || rpcErr.Code != codeSwapInvalidParams {
		t.Fatalf("expected invalid counterparty error, got %+v (status %d)", rpcErr, status)
	}
	if got := mustBalance(t, node.ledger, "alice", "tokenA"); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("rejected call must return the deposit, alice has %s", got)
	}
	if got := mustBalance(t, node.ledger, "vault", "tokenA"); got.Sign() != 0 {
		t.Fatalf("vault must hold nothing after rejection, has %s", got)
	}
}

func TestExecuteVaultShortfallLeavesStateUntouched(t *testing.T) {
	node := newTestNode(t)
	if err := node.ledger.Mint("alice", "tokenA", big.NewInt(1100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := node.ledger.Mint("bob", "tokenA", big.NewInt(600)); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Agreement 1: both sides deposit 600 of the same token.
	_, rpcErr, _ := node.call(t, "swap_initiate", swapInitiateParams{
		Caller:            "alice",
		Funds:             []coinJSON{{Token: "tokenA", Amount: "600"}},
		InitiatorToken:    tokenInfoJSON{Address: "tokenA", Amount: "600"},
		CounterpartyToken: tokenInfoJSON{Address: "tokenA", Amount: "600"},
		Counterparty:      "bob",
	})
	if rpcErr != nil {
		t.Fatalf("initiate failed: %+v", rpcErr)
	}
	_, rpcErr, _ = node.call(t, "swap_accept", swapAcceptParams{
		Caller: "bob",
		Funds:  []coinJSON{{Token: "tokenA", Amount: "600"}},
		ID:     1,
	})
	if rpcErr != nil {
		t.Fatalf("accept failed: %+v", rpcErr)
	}

	// Agreement 2: initiated but never accepted.
	_, rpcErr, _ = node.call(t, "swap_initiate", swapInitiateParams{
		Caller:            "alice",
		Funds:             []coinJSON{{Token: "tokenA", Amount: "500"}},
		InitiatorToken:    tokenInfoJSON{Address: "tokenA", Amount: "500"},
		CounterpartyToken: tokenInfoJSON{Address: "tokenA", Amount: "500"},
		Counterparty:      "carol",
	})
	if rpcErr != nil {
		t.Fatalf("initiate failed: %+v", rpcErr)
	}

	// Best-effort cancel checks each side against the shared vault balance,
	// so it refunds the never-deposited side too and drains what agreement 1
	// needs.
	result, rpcErr, _ := node.call(t, "swap_cancel", swapActionParams{Caller: "alice", ID: 2})
	if rpcErr != nil {
		t.Fatalf("cancel failed: %+v", rpcErr)
	}
	var canceled agreementResult
	if err := json.Unmarshal(result, &canceled); err != nil {
		t.Fatalf("decode cancel result: %v", err)
	}
	if len(canceled.Transfers) != 2 {
		t.Fatalf("expected both sides refunded, got %+v", canceled.Transfers)
	}
	if got := mustBalance(t, node.ledger, "vault", "tokenA"); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("vault should hold 700 after the cancel, has %s", got)
	}

	// The vault can no longer cover both legs of agreement 1. The call must
	// fail without paying either leg and without committing the status.
	_, rpcErr, status := node.call(t, "swap_execute", swapActionParams{Caller: "alice", ID: 1})
	if rpcErr == nil || rpcErr.Code != codeSwapFunds || status != http.StatusBadRequest {
		t.Fatalf("expected funds error, got %+v (status %d)", rpcErr, status)
	}

	result, rpcErr, _ = node.call(t, "swap_getAgreement", swapIDParams{ID: 1})
	if rpcErr != nil {
		t.Fatalf("getAgreement failed: %+v", rpcErr)
	}
	var loaded agreementResult
	if err := json.Unmarshal(result, &loaded); err != nil {
		t.Fatalf("decode agreement: %v", err)
	}
	if loaded.Agreement.Status != "accepted" {
		t.Fatalf("failed execute must not commit the status, got %s", loaded.Agreement.Status)
	}
	if got := mustBalance(t, node.ledger, "vault", "tokenA"); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("failed execute must not move funds, vault has %s", got)
	}
	if got := mustBalance(t, node.ledger, "bob", "tokenA"); got.Sign() != 0 {
		t.Fatalf("no leg may be paid on failure, bob has %s", got)
	}
	if got := mustBalance(t, node.ledger, "alice", "tokenA"); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected alice balance: %s", got)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	node := newTestNode(t)
	seedParties(t, node)

	if _, rpcErr, _ := node.call(t, "swap_initiate", initiateParams()); rpcErr != nil {
		t.Fatalf("initiate failed: %+v", rpcErr)
	}

	_, rpcErr, status := node.call(t, "swap_getAgreement", swapIDParams{ID: 99})
	if rpcErr == nil || rpcErr.Code != codeSwapNotFound || status != http.StatusNotFound {
		t.Fatalf("expected not found mapping, got %+v (status %d)", rpcErr, status)
	}

	if err := node.ledger.Mint("mallory", "tokenB", big.NewInt(2000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	_, rpcErr, status = node.call(t, "swap_accept", swapAcceptParams{
		Caller: "mallory",
		Funds:  []coinJSON{{Token: "tokenB", Amount: "2000"}},
		ID:     1,
	})
	if rpcErr == nil || rpcErr.Code != codeSwapForbidden || status != http.StatusForbidden {
		t.Fatalf("expected forbidden mapping, got %+v (status %d)", rpcErr, status)
	}

	_, rpcErr, status = node.call(t, "swap_execute", swapActionParams{Caller: "alice", ID: 1})
	if rpcErr == nil || rpcErr.Code != codeSwapConflict || status != http.StatusConflict {
		t.Fatalf("expected conflict mapping, got %+v (status %d)", rpcErr, status)
	}

	_, rpcErr, status = node.call(t, "swap_unknown", swapIDParams{ID: 1})
	if rpcErr == nil || rpcErr.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v (status %d)", rpcErr, status)
	}
}

func TestListAndCountsOverRPC(t *testing.T) {
	node := newTestNode(t)
	seedParties(t, node)
	if err := node.ledger.Mint("alice", "tokenA", big.NewInt(1000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, rpcErr, _ := node.call(t, "swap_initiate", initiateParams()); rpcErr != nil {
		t.Fatalf("initiate failed: %+v", rpcErr)
	}
	second := initiateParams()
	second.Counterparty = "carol"
	if _, rpcErr, _ := node.call(t, "swap_initiate", second); rpcErr != nil {
		t.Fatalf("initiate failed: %+v", rpcErr)
	}

	result, rpcErr, _ := node.call(t, "swap_listByInitiator", swapListByAddressParams{Address: "alice", Page: 0, PageSize: 10})
	if rpcErr != nil {
		t.Fatalf("listByInitiator failed: %+v", rpcErr)
	}
	var listed agreementsResult
	if err := json.Unmarshal(result, &listed); err != nil {
		t.Fatalf("decode list result: %v", err)
	}
	if len(listed.Agreements) != 2 || listed.Agreements[0].ID != 1 || listed.Agreements[1].ID != 2 {
		t.Fatalf("unexpected list: %+v", listed.Agreements)
	}

	result, rpcErr, _ = node.call(t, "swap_listByStatus", swapListByStatusParams{Status: "initiated", Page: 0, PageSize: 10})
	if rpcErr != nil {
		t.Fatalf("listByStatus failed: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		t.Fatalf("decode list result: %v", err)
	}
	if len(listed.Agreements) != 2 {
		t.Fatalf("expected 2 initiated agreements, got %d", len(listed.Agreements))
	}

	result, rpcErr, _ = node.call(t, "swap_counts", struct{}{})
	if rpcErr != nil {
		t.Fatalf("counts failed: %+v", rpcErr)
	}
	var counts countsResult
	if err := json.Unmarshal(result, &counts); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if counts.Total != 2 || counts.Initiated != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestBankEndpoints(t *testing.T) {
	node := newTestNode(t)

	result, rpcErr, _ := node.call(t, "bank_mint", bankMintParams{Account: "alice", Token: "tokenA", Amount: "500"})
	if rpcErr != nil {
		t.Fatalf("mint failed: %+v", rpcErr)
	}
	var minted bankBalanceResult
	if err := json.Unmarshal(result, &minted); err != nil {
		t.Fatalf("decode mint result: %v", err)
	}
	if minted.Balance != "500" {
		t.Fatalf("unexpected balance: %s", minted.Balance)
	}

	result, rpcErr, _ = node.call(t, "bank_balance", bankBalanceParams{Account: "alice", Token: "tokenA"})
	if rpcErr != nil {
		t.Fatalf("balance failed: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &minted); err != nil {
		t.Fatalf("decode balance result: %v", err)
	}
	if minted.Balance != "500" {
		t.Fatalf("unexpected balance: %s", minted.Balance)
	}
}
