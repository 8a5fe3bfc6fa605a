package settlement

import (
	"encoding/binary"

	"github.com/azank1/zk2p/pkg/app/core/book"
	"github.com/azank1/zk2p/pkg/crypto"
)

// Verifier abstracts the payment-proof check. The real implementation is a
// ZK verifier; the core only requires a pure function of (proof, order,
// amount).
type Verifier interface {
	Verify(proof []byte, orderID book.OrderID, amount uint64) bool
}

// StubVerifier accepts any non-empty proof. The verification latency the
// real verifier would impose is modeled by the FSM delay, not here.
type StubVerifier struct{}

func (StubVerifier) Verify(proof []byte, _ book.OrderID, _ uint64) bool {
	return len(proof) > 0
}

// BLSVerifier checks a BLS signature from the payment attestor over the
// canonical (orderID, amount) message. The attestor signs after its own
// proof pipeline completes, so the core stays oblivious to ZK internals.
type BLSVerifier struct {
	pk *crypto.BLSPubKey
}

func NewBLSVerifier(pk *crypto.BLSPubKey) *BLSVerifier {
	return &BLSVerifier{pk: pk}
}

func (v *BLSVerifier) Verify(proof []byte, orderID book.OrderID, amount uint64) bool {
	if len(proof) == 0 {
		return false
	}
	return crypto.BLSVerify(v.pk, proof, AttestationMessage(orderID, amount))
}

// AttestationMessage is the byte string the attestor signs: keccak256 of
// the order id halves and the release amount, all big-endian.
func AttestationMessage(orderID book.OrderID, amount uint64) []byte {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], orderID.Seq)
	binary.BigEndian.PutUint64(buf[8:16], orderID.Tag)
	binary.BigEndian.PutUint64(buf[16:24], amount)
	return crypto.Keccak256(buf[:])
}
