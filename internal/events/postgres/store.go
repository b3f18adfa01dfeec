package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/events"
)

var ErrInvalidConfig = errors.New("events/postgres: invalid config")

// Store is the postgres-backed deposit-event store.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("events/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec events.Record) error {
	amount := "0"
	if rec.Event.Deposit.Amount != nil {
		amount = rec.Event.Deposit.Amount.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mining_deposit_events (
			sender,
			tx_nonce,
			recipient_salt_hash,
			token_index,
			amount,
			deposit_index,
			stage,
			claimed,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		ON CONFLICT (sender, tx_nonce) DO UPDATE SET
			recipient_salt_hash = EXCLUDED.recipient_salt_hash,
			token_index = EXCLUDED.token_index,
			amount = EXCLUDED.amount,
			deposit_index = EXCLUDED.deposit_index,
			stage = EXCLUDED.stage,
			claimed = EXCLUDED.claimed,
			updated_at = now()
	`,
		rec.Sender.Bytes(),
		int64(rec.Event.TxNonce),
		rec.Event.Deposit.RecipientSaltHash[:],
		int64(rec.Event.Deposit.TokenIndex),
		amount,
		int64(rec.Event.DepositIndex),
		int16(rec.Stage),
		rec.Claimed,
	)
	if err != nil {
		return fmt.Errorf("events/postgres: upsert: %w", err)
	}
	return nil
}

func (s *Store) ListBySender(ctx context.Context, sender common.Address) ([]events.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tx_nonce, recipient_salt_hash, token_index, amount, deposit_index, stage, claimed
		FROM mining_deposit_events
		WHERE sender = $1
		ORDER BY tx_nonce ASC
	`, sender.Bytes())
	if err != nil {
		return nil, fmt.Errorf("events/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var (
			txNonce      int64
			saltHashRaw  []byte
			tokenIndex   int64
			amountRaw    string
			depositIndex int64
			stage        int16
			claimed      bool
		)
		if err := rows.Scan(&txNonce, &saltHashRaw, &tokenIndex, &amountRaw, &depositIndex, &stage, &claimed); err != nil {
			return nil, fmt.Errorf("events/postgres: scan: %w", err)
		}
		amount, ok := new(big.Int).SetString(amountRaw, 10)
		if !ok {
			return nil, fmt.Errorf("events/postgres: malformed amount %q", amountRaw)
		}
		rec := events.Record{
			Sender: sender,
			Event: assets.DepositEvent{
				Deposit: assets.Deposit{
					TokenIndex: uint32(tokenIndex),
					Amount:     amount,
				},
				TxNonce:      uint64(txNonce),
				DepositIndex: uint32(depositIndex),
			},
			Stage:   events.Stage(stage),
			Claimed: claimed,
		}
		copy(rec.Event.Deposit.RecipientSaltHash[:], saltHashRaw)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events/postgres: rows: %w", err)
	}
	return out, nil
}

func (s *Store) SetStage(ctx context.Context, sender common.Address, txNonce uint64, stage events.Stage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mining_deposit_events
		SET stage = $3, updated_at = now()
		WHERE sender = $1 AND tx_nonce = $2
	`, sender.Bytes(), int64(txNonce), int16(stage))
	if err != nil {
		return fmt.Errorf("events/postgres: set stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sender %s, nonce %d", events.ErrNotFound, sender.Hex(), txNonce)
	}
	return nil
}

func (s *Store) SetClaimed(ctx context.Context, sender common.Address, txNonce uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mining_deposit_events
		SET claimed = TRUE, updated_at = now()
		WHERE sender = $1 AND tx_nonce = $2
	`, sender.Bytes(), int64(txNonce))
	if err != nil {
		return fmt.Errorf("events/postgres: set claimed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sender %s, nonce %d", events.ErrNotFound, sender.Hex(), txNonce)
	}
	return nil
}

var _ events.Store = (*Store)(nil)

// Connect opens a pgx pool for the given DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("events/postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("events/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("events/postgres: ping: %w", err)
	}
	return pool, nil
}
