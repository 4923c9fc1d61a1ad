package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/tracer"
)

// Checkpoint is a signed attestation of the chain head. An external
// verifier that pins a checkpoint can later prove the ledger was not
// truncated or rewritten behind it.
type Checkpoint struct {
	CheckpointID string `json:"checkpointId"`
	Position     uint64 `json:"position"`
	HeadHash     string `json:"headHash"`
	SignedAt     string `json:"signedAt"`
	PublicKey    string `json:"publicKey"`
	Signature    string `json:"signature,omitempty"`
}

// checkpointContent is the canonical byte form that gets signed: the
// checkpoint with its signature cleared.
func checkpointContent(cp Checkpoint) []byte {
	cp.Signature = ""
	content, _ := json.Marshal(cp)
	return content
}

// Checkpoint signs the current chain head. An empty chain attests
// position 0 with the genesis hash. Requires a configured signing key.
func (s *Service) Checkpoint(ctx context.Context) (Checkpoint, error) {
	if s.signer == nil {
		return Checkpoint{}, fault.Validation("no ledger signing key configured")
	}

	position, headHash := s.Head()
	cp := Checkpoint{
		CheckpointID: tracer.NewCheckpointID(),
		Position:     position,
		HeadHash:     headHash,
		SignedAt:     s.now().UTC().Format(isoMillis),
		PublicKey:    hex.EncodeToString(s.signer.Public().(ed25519.PublicKey)),
	}
	cp.Signature = hex.EncodeToString(ed25519.Sign(s.signer, checkpointContent(cp)))
	return cp, nil
}

// VerifyCheckpoint checks a checkpoint's signature against its embedded
// public key.
func VerifyCheckpoint(cp Checkpoint) bool {
	pub, err := hex.DecodeString(cp.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(cp.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), checkpointContent(cp), sig)
}
