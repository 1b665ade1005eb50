package vm

import (
	"context"

	"github.com/pkg/errors"

	"forest/internal/blockstore"
	"forest/internal/types"
)

// MessageVerifier checks a block's message signatures against its
// manifest: every Secp256k1-signed message individually, and the block's
// BLS aggregate over every BLS message, satisfying §4.4.4a's "per-block
// signature valid; aggregate BLS signature valid over the tipset's BLS
// messages." It lives here rather than in internal/sync because it needs
// the same manifest/message loading apply.go already does.
type MessageVerifier struct {
	bs       blockstore.Store
	verifier SignatureVerifier
}

func NewMessageVerifier(bs blockstore.Store, verifier SignatureVerifier) *MessageVerifier {
	return &MessageVerifier{bs: bs, verifier: verifier}
}

// VerifyBlockMessages implements sync.MessageVerifier.
func (mv *MessageVerifier) VerifyBlockMessages(ctx context.Context, b *types.BlockHeader) error {
	m, err := loadManifest(ctx, mv.bs, b.Messages)
	if err != nil {
		return errors.Wrap(err, "load block message manifest")
	}

	for _, c := range m.Secp {
		sm, err := loadOneMessage(ctx, mv.bs, c)
		if err != nil {
			return errors.Wrap(err, "load secp message")
		}
		encoded, err := sm.Message.EncodeCanonical()
		if err != nil {
			return err
		}
		if !mv.verifier.VerifySignature(sm.Signature, sm.Message.From, encoded) {
			return errors.Errorf("vm: invalid secp256k1 signature on message %s", c)
		}
	}

	if len(m.Bls) == 0 {
		return nil
	}
	pubkeys := make([][]byte, len(m.Bls))
	payloads := make([][]byte, len(m.Bls))
	for i, c := range m.Bls {
		sm, err := loadOneMessage(ctx, mv.bs, c)
		if err != nil {
			return errors.Wrap(err, "load bls message")
		}
		encoded, err := sm.Message.EncodeCanonical()
		if err != nil {
			return err
		}
		pubkeys[i] = sm.Message.From.Payload()
		payloads[i] = encoded
	}
	if !mv.verifier.VerifyAggregateBLS([][]byte{b.BLSAggregate.Data}, pubkeys, payloads) {
		return errors.New("vm: invalid aggregate BLS signature")
	}
	return nil
}
