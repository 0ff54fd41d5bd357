package ethereum

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

// batchGetLimitOrderRelevantStates on the 0x v4 exchange proxy. Orders and
// signatures travel as parallel arrays of fixed-layout tuples; the response
// is three parallel arrays in input order.
const batchStatesSig = "batchGetLimitOrderRelevantStates(" +
	"(address,address,uint128,uint128,uint128,address,address,address,address,bytes32,uint64,uint256)[]," +
	"(uint8,uint8,bytes32,bytes32)[])"

const (
	wordSize       = 32
	orderWords     = 12
	signatureWords = 4
)

// Exchange issues batch order state queries against the exchange contract.
type Exchange struct {
	address  string
	caller   ContractCaller
	selector [4]byte
}

// NewExchange wraps the exchange contract at the given address.
func NewExchange(address string, caller ContractCaller) *Exchange {
	return &Exchange{
		address:  address,
		caller:   caller,
		selector: selector(batchStatesSig),
	}
}

func selector(signature string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var sel [4]byte
	copy(sel[:], h.Sum(nil)[:4])
	return sel
}

// BatchOrderStates fetches the on-chain state of all orders in one call.
// The result preserves input order; its length always equals the input
// length or an error is returned.
func (e *Exchange) BatchOrderStates(ctx context.Context, orders []domain.SignedOrder) ([]domain.OrderState, error) {
	data, err := e.encodeCall(orders)
	if err != nil {
		return nil, fmt.Errorf("encode batch states call: %w", err)
	}
	output, err := e.caller.CallContract(ctx, e.address, data)
	if err != nil {
		return nil, err
	}
	states, err := decodeBatchStates(output)
	if err != nil {
		return nil, fmt.Errorf("decode batch states result: %w", err)
	}
	if len(states) != len(orders) {
		return nil, fmt.Errorf("batch states result length %d does not match input %d", len(states), len(orders))
	}
	return states, nil
}

// encodeCall packs selector + two dynamic tuple arrays. The encoded size is
// fixed at 4 + 2 words of offsets + (1+12n) + (1+4n) words.
func (e *Exchange) encodeCall(orders []domain.SignedOrder) ([]byte, error) {
	n := len(orders)
	buf := make([]byte, 0, 4+wordSize*(2+1+orderWords*n+1+signatureWords*n))
	buf = append(buf, e.selector[:]...)

	ordersOffset := uint64(2 * wordSize)
	sigsOffset := ordersOffset + uint64(wordSize*(1+orderWords*n))
	buf = appendUint(buf, ordersOffset)
	buf = appendUint(buf, sigsOffset)

	buf = appendUint(buf, uint64(n))
	for i := range orders {
		var err error
		if buf, err = appendOrder(buf, &orders[i]); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
	}

	buf = appendUint(buf, uint64(n))
	for i := range orders {
		var err error
		if buf, err = appendSignature(buf, orders[i].Signature); err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
	}
	return buf, nil
}

func appendOrder(buf []byte, o *domain.SignedOrder) ([]byte, error) {
	var err error
	if buf, err = appendAddress(buf, o.MakerToken); err != nil {
		return nil, err
	}
	if buf, err = appendAddress(buf, o.TakerToken); err != nil {
		return nil, err
	}
	if buf, err = appendAmount(buf, o.MakerAmount); err != nil {
		return nil, err
	}
	if buf, err = appendAmount(buf, o.TakerAmount); err != nil {
		return nil, err
	}
	if buf, err = appendAmount(buf, o.TakerTokenFeeAmount); err != nil {
		return nil, err
	}
	if buf, err = appendAddress(buf, o.Maker); err != nil {
		return nil, err
	}
	if buf, err = appendAddress(buf, o.Taker); err != nil {
		return nil, err
	}
	if buf, err = appendAddress(buf, o.Sender); err != nil {
		return nil, err
	}
	if buf, err = appendAddress(buf, o.FeeRecipient); err != nil {
		return nil, err
	}
	if buf, err = appendHash(buf, o.Pool); err != nil {
		return nil, err
	}
	buf = appendUint(buf, o.Expiry)
	if buf, err = appendAmount(buf, o.Salt); err != nil {
		return nil, err
	}
	return buf, nil
}

func appendSignature(buf []byte, s domain.Signature) ([]byte, error) {
	buf = appendUint(buf, uint64(s.SignatureType))
	buf = appendUint(buf, uint64(s.V))
	var err error
	if buf, err = appendHash(buf, s.R); err != nil {
		return nil, err
	}
	if buf, err = appendHash(buf, s.S); err != nil {
		return nil, err
	}
	return buf, nil
}

func appendUint(buf []byte, v uint64) []byte {
	var word [wordSize]byte
	big.NewInt(0).SetUint64(v).FillBytes(word[:])
	return append(buf, word[:]...)
}

func appendAmount(buf []byte, decimal string) ([]byte, error) {
	v, err := domain.Amount(decimal)
	if err != nil {
		return nil, err
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("amount %s overflows uint256", decimal)
	}
	var word [wordSize]byte
	v.FillBytes(word[:])
	return append(buf, word[:]...), nil
}

func appendAddress(buf []byte, addr string) ([]byte, error) {
	return appendFixedHex(buf, addr, 20)
}

func appendHash(buf []byte, h string) ([]byte, error) {
	return appendFixedHex(buf, h, 32)
}

func appendFixedHex(buf []byte, s string, size int) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("hex %q: want %d bytes, got %d", s, size, len(raw))
	}
	var word [wordSize]byte
	copy(word[wordSize-size:], raw)
	return append(buf, word[:]...), nil
}

// decodeBatchStates unpacks (orderInfos[], fillableAmounts[], sigValids[]).
// An orderInfo is a static (bytes32 hash, uint8 status, uint128 filled).
func decodeBatchStates(out []byte) ([]domain.OrderState, error) {
	if len(out)%wordSize != 0 || len(out) < 3*wordSize {
		return nil, fmt.Errorf("output length %d is not a valid head", len(out))
	}
	infosOff, err := wordUint(out, 0)
	if err != nil {
		return nil, err
	}
	amountsOff, err := wordUint(out, wordSize)
	if err != nil {
		return nil, err
	}
	validsOff, err := wordUint(out, 2*wordSize)
	if err != nil {
		return nil, err
	}

	infosLen, err := arrayLen(out, infosOff)
	if err != nil {
		return nil, fmt.Errorf("orderInfos: %w", err)
	}
	amountsLen, err := arrayLen(out, amountsOff)
	if err != nil {
		return nil, fmt.Errorf("fillableAmounts: %w", err)
	}
	validsLen, err := arrayLen(out, validsOff)
	if err != nil {
		return nil, fmt.Errorf("isSignatureValids: %w", err)
	}
	if infosLen != amountsLen || infosLen != validsLen {
		return nil, fmt.Errorf("result arrays disagree in length: %d/%d/%d", infosLen, amountsLen, validsLen)
	}

	states := make([]domain.OrderState, infosLen)
	for i := range states {
		base := infosOff + wordSize + uint64(i*3*wordSize)
		hash, err := wordBytes(out, base)
		if err != nil {
			return nil, err
		}
		status, err := wordUint(out, base+wordSize)
		if err != nil {
			return nil, err
		}
		filled, err := wordBig(out, base+2*wordSize)
		if err != nil {
			return nil, err
		}
		fillable, err := wordBig(out, amountsOff+wordSize+uint64(i*wordSize))
		if err != nil {
			return nil, err
		}
		valid, err := wordUint(out, validsOff+wordSize+uint64(i*wordSize))
		if err != nil {
			return nil, err
		}

		states[i] = domain.OrderState{
			Hash:             "0x" + hex.EncodeToString(hash),
			Status:           domain.OrderStatusFromCode(uint8(status)),
			FilledAmount:     filled.String(),
			FillableAmount:   fillable.String(),
			SignatureIsValid: valid != 0,
		}
	}
	return states, nil
}

func arrayLen(out []byte, offset uint64) (int, error) {
	n, err := wordBig(out, offset)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > uint64(len(out)/wordSize) {
		return 0, fmt.Errorf("implausible array length %s", n)
	}
	return int(n.Uint64()), nil
}

func wordBig(out []byte, offset uint64) (*big.Int, error) {
	// offset is attacker-controlled; offset+wordSize could wrap around.
	if uint64(len(out)) < wordSize || offset > uint64(len(out))-wordSize {
		return nil, fmt.Errorf("truncated output at offset %d", offset)
	}
	return new(big.Int).SetBytes(out[offset : offset+wordSize]), nil
}

func wordBytes(out []byte, offset uint64) ([]byte, error) {
	if uint64(len(out)) < wordSize || offset > uint64(len(out))-wordSize {
		return nil, fmt.Errorf("truncated output at offset %d", offset)
	}
	return out[offset : offset+wordSize], nil
}

// wordUint reads the word at the given byte offset as a uint64.
func wordUint(out []byte, offset uint64) (uint64, error) {
	v, err := wordBig(out, offset)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("word at offset %d overflows uint64", offset)
	}
	return v.Uint64(), nil
}
