package proverclient

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Hogen32/intmax2-mining-cli/internal/assets"
	"github.com/Hogen32/intmax2-mining-cli/internal/claim"
	"github.com/Hogen32/intmax2-mining-cli/internal/merkle"
)

type batchWire struct {
	Version   string        `json:"version"`
	Sender    string        `json:"sender"`
	KeyNumber uint64        `json:"key_number"`
	Term      string        `json:"term"`
	CreatedAt time.Time     `json:"created_at"`
	Witnesses []witnessWire `json:"witnesses"`
}

type witnessWire struct {
	DepositTreeRoot     string       `json:"deposit_tree_root"`
	DepositIndex        uint32       `json:"deposit_index"`
	DepositProof        []string     `json:"deposit_merkle_proof"`
	Deposit             depositWire  `json:"deposit"`
	EligibleTreeRoot    string       `json:"eligible_tree_root"`
	EligibleIndex       uint32       `json:"eligible_index"`
	EligibleProof       []string     `json:"eligible_merkle_proof"`
	EligibleLeafDeposit uint32       `json:"eligible_leaf_deposit_index"`
	EligibleLeafAmount  string       `json:"eligible_leaf_amount"`
	Pubkey              string       `json:"pubkey"`
	Salt                string       `json:"salt"`
	Recipient           string       `json:"recipient"`
	PrevClaimHash       string       `json:"prev_claim_hash"`
	NewClaimHash        string       `json:"new_claim_hash"`
}

type depositWire struct {
	RecipientSaltHash string `json:"recipient_salt_hash"`
	TokenIndex        uint32 `json:"token_index"`
	Amount            string `json:"amount"`
}

// EncodeBatch serializes a batch into the versioned wire form consumed
// by the prover.
func EncodeBatch(b Batch) ([]byte, error) {
	wire := batchWire{
		Version:   batchVersion,
		Sender:    b.Sender.Hex(),
		KeyNumber: b.KeyNumber,
		Term:      b.Term.String(),
		CreatedAt: b.CreatedAt.UTC(),
		Witnesses: make([]witnessWire, 0, len(b.Witnesses)),
	}
	for _, w := range b.Witnesses {
		wire.Witnesses = append(wire.Witnesses, encodeWitness(w))
	}
	return json.Marshal(wire)
}

func encodeWitness(w claim.Witness) witnessWire {
	return witnessWire{
		DepositTreeRoot:     hashHex(w.DepositTreeRoot),
		DepositIndex:        w.DepositIndex,
		DepositProof:        proofHex(w.DepositMerkleProof),
		Deposit: depositWire{
			RecipientSaltHash: hexutil.Encode(w.Deposit.RecipientSaltHash[:]),
			TokenIndex:        w.Deposit.TokenIndex,
			Amount:            w.Deposit.Amount.String(),
		},
		EligibleTreeRoot:    hashHex(w.EligibleTreeRoot),
		EligibleIndex:       w.EligibleIndex,
		EligibleProof:       proofHex(w.EligibleMerkleProof),
		EligibleLeafDeposit: w.EligibleLeaf.DepositIndex,
		EligibleLeafAmount:  w.EligibleLeaf.Amount.String(),
		Pubkey:              hexutil.Encode(w.Pubkey),
		Salt:                hexutil.Encode(w.Salt[:]),
		Recipient:           w.Recipient.Hex(),
		PrevClaimHash:       hashHex(w.PrevClaimHash),
		NewClaimHash:        hashHex(w.NewClaimHash),
	}
}

// DecodeBatch parses the wire form back into a batch. Used by the test
// harness and by local inspection tooling.
func DecodeBatch(payload []byte) (Batch, error) {
	var wire batchWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Batch{}, fmt.Errorf("proverclient: decode batch: %w", err)
	}
	if wire.Version != batchVersion {
		return Batch{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidBatch, wire.Version)
	}
	term, err := parseTerm(wire.Term)
	if err != nil {
		return Batch{}, err
	}
	b := Batch{
		Sender:    common.HexToAddress(wire.Sender),
		KeyNumber: wire.KeyNumber,
		Term:      term,
		CreatedAt: wire.CreatedAt,
		Witnesses: make([]claim.Witness, 0, len(wire.Witnesses)),
	}
	for i, ww := range wire.Witnesses {
		w, err := decodeWitness(ww)
		if err != nil {
			return Batch{}, fmt.Errorf("proverclient: decode witness %d: %w", i, err)
		}
		b.Witnesses = append(b.Witnesses, w)
	}
	return b, nil
}

func decodeWitness(ww witnessWire) (claim.Witness, error) {
	var w claim.Witness
	var err error
	if w.DepositTreeRoot, err = parseHash(ww.DepositTreeRoot); err != nil {
		return w, err
	}
	w.DepositIndex = ww.DepositIndex
	if w.DepositMerkleProof, err = parseProof(ww.DepositProof); err != nil {
		return w, err
	}
	salt, err := parseHash(ww.Deposit.RecipientSaltHash)
	if err != nil {
		return w, err
	}
	amount, ok := new(big.Int).SetString(ww.Deposit.Amount, 10)
	if !ok {
		return w, fmt.Errorf("%w: bad deposit amount %q", ErrInvalidBatch, ww.Deposit.Amount)
	}
	w.Deposit = assets.Deposit{RecipientSaltHash: salt, TokenIndex: ww.Deposit.TokenIndex, Amount: amount}
	if w.EligibleTreeRoot, err = parseHash(ww.EligibleTreeRoot); err != nil {
		return w, err
	}
	w.EligibleIndex = ww.EligibleIndex
	if w.EligibleMerkleProof, err = parseProof(ww.EligibleProof); err != nil {
		return w, err
	}
	leafAmount, ok := new(big.Int).SetString(ww.EligibleLeafAmount, 10)
	if !ok {
		return w, fmt.Errorf("%w: bad eligible amount %q", ErrInvalidBatch, ww.EligibleLeafAmount)
	}
	w.EligibleLeaf = merkle.EligibleLeaf{DepositIndex: ww.EligibleLeafDeposit, Amount: leafAmount}
	if w.Pubkey, err = hexutil.Decode(ww.Pubkey); err != nil {
		return w, fmt.Errorf("%w: bad pubkey: %v", ErrInvalidBatch, err)
	}
	if w.Salt, err = parseHash(ww.Salt); err != nil {
		return w, err
	}
	w.Recipient = common.HexToAddress(ww.Recipient)
	if w.PrevClaimHash, err = parseHash(ww.PrevClaimHash); err != nil {
		return w, err
	}
	if w.NewClaimHash, err = parseHash(ww.NewClaimHash); err != nil {
		return w, err
	}
	return w, nil
}

func parseTerm(s string) (claim.Term, error) {
	switch s {
	case claim.TermShort.String():
		return claim.TermShort, nil
	case claim.TermLong.String():
		return claim.TermLong, nil
	default:
		return 0, fmt.Errorf("%w: unknown term %q", ErrInvalidBatch, s)
	}
}

func hashHex(h merkle.Hash) string {
	return hexutil.Encode(h[:])
}

func parseHash(s string) (merkle.Hash, error) {
	var h merkle.Hash
	raw, err := hexutil.Decode(s)
	if err != nil {
		return h, fmt.Errorf("%w: bad hash %q: %v", ErrInvalidBatch, s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("%w: hash %q has %d bytes", ErrInvalidBatch, s, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func proofHex(p merkle.Proof) []string {
	out := make([]string, 0, len(p.Siblings))
	for _, s := range p.Siblings {
		out = append(out, hexutil.Encode(s[:]))
	}
	return out
}

func parseProof(ss []string) (merkle.Proof, error) {
	p := merkle.Proof{Siblings: make([]merkle.Hash, 0, len(ss))}
	for _, s := range ss {
		h, err := parseHash(s)
		if err != nil {
			return merkle.Proof{}, err
		}
		p.Siblings = append(p.Siblings, h)
	}
	return p, nil
}
