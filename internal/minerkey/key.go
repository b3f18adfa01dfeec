package minerkey

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidPrivateKey = errors.New("minerkey: invalid private key")

// keyDomain separates mining key derivation from any other use of the
// master withdrawal key.
const keyDomain = "intmax2-mining/key/v1"

const saltDomain = "intmax2-mining/claim-salt/v1"

// Key is one derived mining identity. It addresses a single mining slot:
// deposits are sent from DepositAddress and withdrawn to WithdrawalAddress.
// A Key is immutable once derived.
type Key struct {
	DepositPrivateKey *ecdsa.PrivateKey
	DepositAddress    common.Address
	WithdrawalAddress common.Address
	Number            uint64
}

// ParseMasterKeyHex parses the master withdrawal private key from hex, with
// optional 0x prefix. The returned error never includes key material.
func ParseMasterKeyHex(raw string) (*ecdsa.PrivateKey, error) {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "0x")
	v = strings.TrimPrefix(v, "0X")
	if len(v) != 64 {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return key, nil
}

// Derive derives the mining key for the given sequence number from the
// master withdrawal key. Derivation is deterministic: the same master key
// and number always produce the same deposit key.
func Derive(master *ecdsa.PrivateKey, number uint64) (Key, error) {
	if master == nil {
		return Key{}, fmt.Errorf("%w: nil master key", ErrInvalidPrivateKey)
	}
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], number)

	seed := crypto.Keccak256(crypto.FromECDSA(master), []byte(keyDomain), num[:])
	// Rehash until the seed is a valid secp256k1 scalar. The first candidate
	// is valid except with negligible probability.
	for {
		priv, err := crypto.ToECDSA(seed)
		if err == nil {
			return Key{
				DepositPrivateKey: priv,
				DepositAddress:    crypto.PubkeyToAddress(priv.PublicKey),
				WithdrawalAddress: crypto.PubkeyToAddress(master.PublicKey),
				Number:            number,
			}, nil
		}
		seed = crypto.Keccak256(seed)
	}
}

// DeriveRange derives count consecutive keys starting at start.
func DeriveRange(master *ecdsa.PrivateKey, start, count uint64) ([]Key, error) {
	keys := make([]Key, 0, count)
	for n := start; n < start+count; n++ {
		key, err := Derive(master, n)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Pubkey returns the compressed secp256k1 public key of the deposit key,
// the claimant identity carried in claim witnesses.
func (k Key) Pubkey() []byte {
	return crypto.CompressPubkey(&k.DepositPrivateKey.PublicKey)
}

// Recipient is the withdrawal address claims for this key pay out to.
func (k Key) Recipient() common.Address {
	return k.WithdrawalAddress
}

// ClaimSalt derives the per-event claim salt from the deposit key and the
// deposit's on-chain transaction nonce. Distinct nonces yield distinct
// salts, which keeps claims unlinkable across events of the same key.
func (k Key) ClaimSalt(txNonce uint64) [32]byte {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], txNonce)
	var salt [32]byte
	copy(salt[:], crypto.Keccak256(crypto.FromECDSA(k.DepositPrivateKey), []byte(saltDomain), num[:]))
	return salt
}
