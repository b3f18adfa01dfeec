package proverclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Hogen32/intmax2-mining-cli/internal/blobstore"
	"github.com/Hogen32/intmax2-mining-cli/internal/claim"
	"github.com/Hogen32/intmax2-mining-cli/internal/merkle"
	"github.com/Hogen32/intmax2-mining-cli/internal/queue"
)

const batchVersion = "claim-witness/v1"

// DefaultTopic is the queue topic witness batches are published on.
const DefaultTopic = "claims.witness.v1"

var (
	ErrInvalidConfig = errors.New("proverclient: invalid config")
	ErrInvalidBatch  = errors.New("proverclient: invalid batch")
	ErrBrokenChain   = errors.New("proverclient: witness chain broken")
)

// Batch is one key's witness sequence handed to the proving system.
type Batch struct {
	Sender    common.Address
	KeyNumber uint64
	Term      claim.Term
	Witnesses []claim.Witness
	CreatedAt time.Time
}

// Validate re-checks the invariants the proving system depends on before
// the batch leaves the process.
func (b Batch) Validate() error {
	if len(b.Witnesses) == 0 {
		return fmt.Errorf("%w: empty witness sequence", ErrInvalidBatch)
	}
	if len(b.Witnesses) > claim.MaxClaims {
		return fmt.Errorf("%w: %d witnesses exceeds max %d", ErrInvalidBatch, len(b.Witnesses), claim.MaxClaims)
	}
	if b.Witnesses[0].PrevClaimHash != (merkle.Hash{}) {
		return fmt.Errorf("%w: first witness must chain from the zero hash", ErrBrokenChain)
	}
	for i := 1; i < len(b.Witnesses); i++ {
		if b.Witnesses[i].PrevClaimHash != b.Witnesses[i-1].NewClaimHash {
			return fmt.Errorf("%w: at witness %d", ErrBrokenChain, i)
		}
	}
	return nil
}

// Client submits witness batches to the proving collaborator.
type Client interface {
	SubmitWitnesses(ctx context.Context, batch Batch) error
}

// QueueConfig configures the queue-backed client.
type QueueConfig struct {
	Topic string

	Producer queue.Producer
	Blobs    blobstore.Store

	Log *slog.Logger
}

// QueueClient archives each encoded batch in the blob store, then
// publishes it for the prover.
type QueueClient struct {
	cfg QueueConfig
}

func NewQueueClient(cfg QueueConfig) (*QueueClient, error) {
	if cfg.Producer == nil || cfg.Blobs == nil {
		return nil, fmt.Errorf("%w: producer and blob store are required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &QueueClient{cfg: cfg}, nil
}

func (c *QueueClient) SubmitWitnesses(ctx context.Context, batch Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	payload, err := EncodeBatch(batch)
	if err != nil {
		return err
	}

	last := batch.Witnesses[len(batch.Witnesses)-1].NewClaimHash
	key := fmt.Sprintf("%s/%s.json", strings.ToLower(batch.Sender.Hex()), hexutil.Encode(last[:]))
	if err := c.cfg.Blobs.Put(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("proverclient: archive batch: %w", err)
	}
	if err := c.cfg.Producer.Publish(ctx, c.cfg.Topic, payload); err != nil {
		return fmt.Errorf("proverclient: publish batch: %w", err)
	}
	c.cfg.Log.Info("claim witness batch submitted",
		"sender", batch.Sender.Hex(),
		"term", batch.Term.String(),
		"witnesses", len(batch.Witnesses),
		"blob_key", key,
	)
	return nil
}

// MockClient records batches in memory; used by tests and dry runs.
type MockClient struct {
	Batches []Batch
	Err     error
}

func (m *MockClient) SubmitWitnesses(_ context.Context, batch Batch) error {
	if m.Err != nil {
		return m.Err
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	m.Batches = append(m.Batches, batch)
	return nil
}
