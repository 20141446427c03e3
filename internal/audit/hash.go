package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/ppiankov/claimgate/internal/model"
)

// ErrChainBroken reports a tampered or reordered log
var ErrChainBroken = errors.New("audit hash chain is broken")

// ChainError locates the first broken link
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s at sequence %d: %s", ErrChainBroken, e.Sequence, e.Reason)
}

func (e *ChainError) Unwrap() error {
	return ErrChainBroken
}

// ComputeHash hashes the canonical JSON (RFC 8785) of every field except Hash
func ComputeHash(e model.AuditEntry) (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// VerifyEntries checks hashes, links and ordering of entries in sequence order
func VerifyEntries(entries []model.AuditEntry) error {
	prevHash := ""
	var prevSeq uint64
	for _, e := range entries {
		if e.Sequence <= prevSeq {
			return &ChainError{Sequence: e.Sequence, Reason: "sequence not increasing"}
		}
		if e.PrevHash != prevHash {
			return &ChainError{Sequence: e.Sequence, Reason: "previous hash mismatch"}
		}
		h, err := ComputeHash(e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return &ChainError{Sequence: e.Sequence, Reason: "entry hash mismatch"}
		}
		prevHash, prevSeq = e.Hash, e.Sequence
	}
	return nil
}
