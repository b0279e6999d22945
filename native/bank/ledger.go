package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"tokenswap/storage"
)

var balancePrefix = []byte("bank/balance/")

// ErrInsufficientBalance is returned when a transfer would overdraw the
// sender.
var ErrInsufficientBalance = errors.New("bank: insufficient balance")

// Ledger tracks per-account token balances in the shared key-value store. It
// stands in for the host chain's native-currency ledger: the swap engine only
// reads it through a narrow balance view, and transfer instructions emitted by
// the engine are applied here by the host wiring after the engine returns.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger constructs a ledger bound to the provided database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func balanceKey(account, token string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(token)+1+len(account))
	buf = append(buf, balancePrefix...)
	buf = append(buf, token...)
	buf = append(buf, '/')
	buf = append(buf, account...)
	return buf
}

func normalize(account, token string) (string, string, error) {
	account = strings.TrimSpace(account)
	token = strings.TrimSpace(token)
	if account == "" {
		return "", "", fmt.Errorf("bank: account must not be empty")
	}
	if token == "" {
		return "", "", fmt.Errorf("bank: token must not be empty")
	}
	return account, token, nil
}

// Balance returns the token balance held by account. Missing entries read as
// zero.
func (l *Ledger) Balance(account, token string) (*big.Int, error) {
	account, token, err := normalize(account, token)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(account, token)
}

// Mint credits account with amount of token out of thin air. Used for genesis
// seeding and tests.
func (l *Ledger) Mint(account, token string, amount *big.Int) error {
	account, token, err := normalize(account, token)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: mint amount must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.read(account, token)
	if err != nil {
		return err
	}
	return l.write(account, token, new(big.Int).Add(current, amount))
}

// Transfer moves amount of token from one account to another, failing without
// any write when the sender balance is short.
func (l *Ledger) Transfer(from, to, token string, amount *big.Int) error {
	from, token, err := normalize(from, token)
	if err != nil {
		return err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("bank: recipient must not be empty")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance, err := l.read(from, token)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBalance, token, amount)
	}
	toBalance, err := l.read(to, token)
	if err != nil {
		return err
	}
	if err := l.write(from, token, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.write(to, token, new(big.Int).Add(toBalance, amount))
}

// Transfer is one leg of a multi-leg payout.
type Transfer struct {
	To     string
	Token  string
	Amount *big.Int
}

// TransferAll moves every leg out of one sender as a single atomic step:
// all legs are validated against the ledger first, including legs drawing on
// the same token cumulatively, and the balance writes land in one batch.
// A failed leg leaves every balance untouched.
func (l *Ledger) TransferAll(from string, legs []Transfer) error {
	from = strings.TrimSpace(from)
	if from == "" {
		return fmt.Errorf("bank: sender must not be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make(map[string]*big.Int)
	load := func(account, token string) (*big.Int, error) {
		key := string(balanceKey(account, token))
		if balance, ok := pending[key]; ok {
			return balance, nil
		}
		balance, err := l.read(account, token)
		if err != nil {
			return nil, err
		}
		pending[key] = balance
		return balance, nil
	}

	for _, leg := range legs {
		to := strings.TrimSpace(leg.To)
		token := strings.TrimSpace(leg.Token)
		if to == "" {
			return fmt.Errorf("bank: recipient must not be empty")
		}
		if token == "" {
			return fmt.Errorf("bank: token must not be empty")
		}
		if leg.Amount == nil || leg.Amount.Sign() < 0 {
			return fmt.Errorf("bank: transfer amount must be non-negative")
		}
		if leg.Amount.Sign() == 0 || from == to {
			continue
		}
		fromBalance, err := load(from, token)
		if err != nil {
			return err
		}
		if fromBalance.Cmp(leg.Amount) < 0 {
			return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBalance, token, leg.Amount)
		}
		pending[string(balanceKey(from, token))] = new(big.Int).Sub(fromBalance, leg.Amount)
		toBalance, err := load(to, token)
		if err != nil {
			return err
		}
		pending[string(balanceKey(to, token))] = new(big.Int).Add(toBalance, leg.Amount)
	}

	batch := l.db.NewBatch()
	for key, balance := range pending {
		encoded, err := rlp.EncodeToBytes(balance)
		if err != nil {
			return err
		}
		batch.Put([]byte(key), encoded)
	}
	return l.db.Write(batch)
}

func (l *Ledger) read(account, token string) (*big.Int, error) {
	data, err := l.db.Get(balanceKey(account, token))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("bank: corrupt balance for %s/%s: %w", account, token, err)
	}
	return balance, nil
}

func (l *Ledger) write(account, token string, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return l.db.Put(balanceKey(account, token), encoded)
}

// AccountView is a read-only single-account lens over the ledger, shaped to
// serve as the swap engine's balance source.
type AccountView struct {
	ledger  *Ledger
	account string
}

// View returns a balance view pinned to account.
func (l *Ledger) View(account string) *AccountView {
	return &AccountView{ledger: l, account: account}
}

// Balance reports the pinned account's balance for token.
func (v *AccountView) Balance(token string) (*big.Int, error) {
	return v.ledger.Balance(v.account, token)
}
