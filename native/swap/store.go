package swap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"tokenswap/storage"
)

var (
	agreementPrefix = []byte("swap/agreements/")
	sequenceKey     = []byte("swap/sequence")
	counterPrefix   = []byte("swap/counters/")
	totalCounterKey = []byte("swap/counters/total")
	metadataKey     = []byte("swap/meta")
)

// Counts aggregates the persisted per-status population tallies.
type Counts struct {
	Total     uint64
	Initiated uint64
	Accepted  uint64
	Executed  uint64
	Canceled  uint64
}

// Store owns every persisted agreement record plus the sequence and status
// counters. No other component writes to its keyspace.
type Store struct {
	db storage.Database
}

// NewStore constructs a store bound to the provided database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Metadata records the module name and version persisted at first boot.
type Metadata struct {
	Name    string
	Version string
}

type storedTokenInfo struct {
	Address string
	Amount  *big.Int
}

type storedAgreement struct {
	ID                uint64
	Initiator         string
	Counterparty      string
	InitiatorToken    storedTokenInfo
	CounterpartyToken storedTokenInfo
	Status            uint8
	CreatedAt         uint64
}

func agreementKey(id uint64) []byte {
	buf := make([]byte, len(agreementPrefix)+8)
	copy(buf, agreementPrefix)
	binary.BigEndian.PutUint64(buf[len(agreementPrefix):], id)
	return buf
}

func counterKey(status AgreementStatus) []byte {
	return append(append([]byte(nil), counterPrefix...), status.String()...)
}

func toStored(a *Agreement) *storedAgreement {
	return &storedAgreement{
		ID:           a.ID,
		Initiator:    a.Initiator,
		Counterparty: a.Counterparty,
		InitiatorToken: storedTokenInfo{
			Address: a.InitiatorToken.Address,
			Amount:  new(big.Int).Set(a.InitiatorToken.Amount),
		},
		CounterpartyToken: storedTokenInfo{
			Address: a.CounterpartyToken.Address,
			Amount:  new(big.Int).Set(a.CounterpartyToken.Amount),
		},
		Status:    uint8(a.Status),
		CreatedAt: uint64(a.CreatedAt),
	}
}

func fromStored(rec *storedAgreement) *Agreement {
	return &Agreement{
		ID:           rec.ID,
		Initiator:    rec.Initiator,
		Counterparty: rec.Counterparty,
		InitiatorToken: TokenInfo{
			Address: rec.InitiatorToken.Address,
			Amount:  new(big.Int).Set(rec.InitiatorToken.Amount),
		},
		CounterpartyToken: TokenInfo{
			Address: rec.CounterpartyToken.Address,
			Amount:  new(big.Int).Set(rec.CounterpartyToken.Amount),
		},
		Status:    AgreementStatus(rec.Status),
		CreatedAt: int64(rec.CreatedAt),
	}
}

// InitializeMetadata persists the module name/version record on first boot.
// Existing metadata is left untouched so upgrades keep the original record.
func (s *Store) InitializeMetadata(name, version string) error {
	ok, err := s.db.Has(metadataKey)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	encoded, err := rlp.EncodeToBytes(&Metadata{Name: name, Version: version})
	if err != nil {
		return err
	}
	return s.db.Put(metadataKey, encoded)
}

// LoadMetadata returns the persisted module metadata, if any.
func (s *Store) LoadMetadata() (*Metadata, bool, error) {
	data, err := s.db.Get(metadataKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	meta := new(Metadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, false, err
	}
	return meta, true, nil
}

// Sequence returns the last issued agreement id. Zero means no agreement has
// been initiated yet.
func (s *Store) Sequence() (uint64, error) {
	return s.readCounter(sequenceKey)
}

// AllocateID increments the persisted sequence counter and returns the new
// value. Ids start at 1 and are never reused.
func (s *Store) AllocateID() (uint64, error) {
	current, err := s.readCounter(sequenceKey)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.writeCounter(sequenceKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Put validates and persists the agreement record under its id.
func (s *Store) Put(a *Agreement) error {
	sanitized, err := SanitizeAgreement(a)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(toStored(sanitized))
	if err != nil {
		return err
	}
	return s.db.Put(agreementKey(sanitized.ID), encoded)
}

// Get loads the agreement stored under id, returning NotFoundError when the
// record is absent.
func (s *Store) Get(id uint64) (*Agreement, error) {
	data, err := s.db.Get(agreementKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	rec := new(storedAgreement)
	if err := rlp.DecodeBytes(data, rec); err != nil {
		return nil, fmt.Errorf("swap: corrupt agreement record %d: %w", id, err)
	}
	return fromStored(rec), nil
}

// Scan walks agreement ids in [start, end) ascending and collects the records
// accepted by match. A nil match collects everything in range. There is no
// secondary index, so cost is linear in the scanned id window.
func (s *Store) Scan(start, end uint64, match func(*Agreement) bool) ([]*Agreement, error) {
	if end <= start {
		return []*Agreement{}, nil
	}
	it := s.db.NewIterator(agreementKey(start), agreementKey(end))
	defer it.Release()

	results := []*Agreement{}
	for it.Next() {
		rec := new(storedAgreement)
		if err := rlp.DecodeBytes(it.Value(), rec); err != nil {
			return nil, fmt.Errorf("swap: corrupt agreement record at key %x: %w", it.Key(), err)
		}
		agreement := fromStored(rec)
		if match == nil || match(agreement) {
			results = append(results, agreement)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return results, nil
}

// Insert persists a freshly initiated agreement and bumps the total and
// per-status counters in the same atomic batch, so the record and its tallies
// can never diverge.
func (s *Store) Insert(a *Agreement) error {
	sanitized, err := SanitizeAgreement(a)
	if err != nil {
		return err
	}
	record, err := rlp.EncodeToBytes(toStored(sanitized))
	if err != nil {
		return err
	}
	total, err := s.bumpedCounter(totalCounterKey, 1)
	if err != nil {
		return err
	}
	status, err := s.bumpedCounter(counterKey(sanitized.Status), 1)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Put(agreementKey(sanitized.ID), record)
	if err := putCounter(batch, totalCounterKey, total); err != nil {
		return err
	}
	if err := putCounter(batch, counterKey(sanitized.Status), status); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// UpdateStatus moves the agreement to the next status, persisting the record
// and shifting the per-status counters in one atomic batch. Illegal edges are
// rejected before anything is written.
func (s *Store) UpdateStatus(a *Agreement, next AgreementStatus) (*Agreement, error) {
	if a == nil {
		return nil, fmt.Errorf("swap: nil agreement")
	}
	if !a.Status.CanTransition(next) {
		return nil, &InvalidStatusError{Expected: next.String(), Found: a.Status.String()}
	}
	updated := a.Clone()
	previous := updated.Status
	updated.Status = next
	sanitized, err := SanitizeAgreement(updated)
	if err != nil {
		return nil, err
	}
	record, err := rlp.EncodeToBytes(toStored(sanitized))
	if err != nil {
		return nil, err
	}
	fromCount, err := s.bumpedCounter(counterKey(previous), -1)
	if err != nil {
		return nil, err
	}
	toCount, err := s.bumpedCounter(counterKey(next), 1)
	if err != nil {
		return nil, err
	}
	batch := s.db.NewBatch()
	batch.Put(agreementKey(sanitized.ID), record)
	if err := putCounter(batch, counterKey(previous), fromCount); err != nil {
		return nil, err
	}
	if err := putCounter(batch, counterKey(next), toCount); err != nil {
		return nil, err
	}
	if err := s.db.Write(batch); err != nil {
		return nil, err
	}
	return sanitized, nil
}

// Counts reads the persisted population tallies. All reads are O(1).
func (s *Store) Counts() (Counts, error) {
	var counts Counts
	var err error
	if counts.Total, err = s.readCounter(totalCounterKey); err != nil {
		return Counts{}, err
	}
	if counts.Initiated, err = s.readCounter(counterKey(StatusInitiated)); err != nil {
		return Counts{}, err
	}
	if counts.Accepted, err = s.readCounter(counterKey(StatusAccepted)); err != nil {
		return Counts{}, err
	}
	if counts.Executed, err = s.readCounter(counterKey(StatusExecuted)); err != nil {
		return Counts{}, err
	}
	if counts.Canceled, err = s.readCounter(counterKey(StatusCanceled)); err != nil {
		return Counts{}, err
	}
	return counts, nil
}

func (s *Store) readCounter(key []byte) (uint64, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var value uint64
	if err := rlp.DecodeBytes(data, &value); err != nil {
		return 0, fmt.Errorf("swap: corrupt counter %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) writeCounter(key []byte, value uint64) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// bumpedCounter reads the counter and returns its value shifted by delta,
// without writing anything.
func (s *Store) bumpedCounter(key []byte, delta int64) (uint64, error) {
	current, err := s.readCounter(key)
	if err != nil {
		return 0, err
	}
	if delta < 0 && current < uint64(-delta) {
		return 0, fmt.Errorf("swap: counter %q underflow", key)
	}
	return uint64(int64(current) + delta), nil
}

func putCounter(batch storage.Batch, key []byte, value uint64) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}
