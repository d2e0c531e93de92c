package blockchain

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/hxuan190/leverage-keeper/internal/txn"
)

var ErrMissingKey = errors.New("keeper key is not configured")

// KeypairSigner signs as the single keeper wallet.
type KeypairSigner struct {
	key solana.PrivateKey
}

var _ txn.Signer = (*KeypairSigner)(nil)

// LoadSigner accepts a base58 private key or the path of a keygen JSON file.
func LoadSigner(keyOrPath string) (*KeypairSigner, error) {
	keyOrPath = strings.TrimSpace(keyOrPath)
	if keyOrPath == "" {
		return nil, ErrMissingKey
	}

	if _, err := os.Stat(keyOrPath); err == nil {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(keyOrPath)
		if err != nil {
			return nil, fmt.Errorf("read keypair file: %w", err)
		}
		return &KeypairSigner{key: key}, nil
	}

	key, err := solana.PrivateKeyFromBase58(keyOrPath)
	if err != nil {
		return nil, fmt.Errorf("decode keeper key: %w", err)
	}
	return &KeypairSigner{key: key}, nil
}

func NewKeypairSigner(key solana.PrivateKey) *KeypairSigner {
	return &KeypairSigner{key: key}
}

func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeypairSigner) Sign(tx *solana.Transaction) error {
	pub := s.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.key
		}
		return nil
	})
	return err
}
