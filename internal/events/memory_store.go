package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is the in-process Store used for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[common.Address]map[uint64]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[common.Address]map[uint64]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bySender, ok := s.records[rec.Sender]
	if !ok {
		bySender = make(map[uint64]Record)
		s.records[rec.Sender] = bySender
	}
	bySender[rec.Event.TxNonce] = rec
	return nil
}

func (s *MemoryStore) ListBySender(_ context.Context, sender common.Address) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySender := s.records[sender]
	out := make([]Record, 0, len(bySender))
	for _, rec := range bySender {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Event.TxNonce < out[j].Event.TxNonce
	})
	return out, nil
}

func (s *MemoryStore) SetStage(_ context.Context, sender common.Address, txNonce uint64, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sender][txNonce]
	if !ok {
		return fmt.Errorf("%w: sender %s, nonce %d", ErrNotFound, sender.Hex(), txNonce)
	}
	rec.Stage = stage
	s.records[sender][txNonce] = rec
	return nil
}

func (s *MemoryStore) SetClaimed(_ context.Context, sender common.Address, txNonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sender][txNonce]
	if !ok {
		return fmt.Errorf("%w: sender %s, nonce %d", ErrNotFound, sender.Hex(), txNonce)
	}
	rec.Claimed = true
	s.records[sender][txNonce] = rec
	return nil
}
