package domain

import (
	"errors"
	"math/big"
	"strings"
)

// Validation reasons mirror the 0x-mesh order validator error codes so API
// consumers see familiar strings.
var (
	ErrZeroMakerAmount          = errors.New("ORDER_HAS_INVALID_MAKER_ASSET_AMOUNT: order makerAmount cannot be 0")
	ErrZeroTakerAmount          = errors.New("ORDER_HAS_INVALID_TAKER_ASSET_AMOUNT: order takerAmount cannot be 0")
	ErrInvalidMakerAddress      = errors.New("ORDER_HAS_INVALID_MAKER_ASSET_DATA: order maker address is invalid")
	ErrInvalidTakerAddress      = errors.New("ORDER_HAS_INVALID_TAKER_ASSET_DATA: order taker address is invalid")
	ErrInvalidVerifyingContract = errors.New("INCORRECT_EXCHANGE_ADDRESS: the exchange address for the order does not match the chain ID")
	ErrInvalidSignature         = errors.New("ORDER_HAS_INVALID_SIGNATURE: order signature must be valid")
	ErrOrderCancelled           = errors.New("ORDER_CANCELLED: order cancelled")
	ErrOrderExpired             = errors.New("ORDER_EXPIRED: order expired according to latest block timestamp")
	ErrOrderUnfunded            = errors.New("ORDER_UNFUNDED: maker has insufficient balance or allowance for this order to be filled")
	ErrOrderFullyFilled         = errors.New("ORDER_FULLY_FILLED: order already fully filled")
	ErrInvalidAmount            = errors.New("ORDER_HAS_INVALID_AMOUNT: order amount is not a valid decimal integer")
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ChainInfo describes the chain and contracts an order must be bound to.
type ChainInfo struct {
	ChainID     uint64
	Exchange    string // verifying contract address
	FlashWallet string // orders naming this taker are rejected
}

// Signature is the maker's signature over the order hash. SignatureType
// follows the 0x v4 encoding (2 = EIP-712, 3 = EthSign).
type Signature struct {
	SignatureType uint8  `json:"signatureType"`
	V             uint8  `json:"v"`
	R             string `json:"r"`
	S             string `json:"s"`
}

// SignedOrder is a 0x v4 limit order plus its signature. All fields are
// comparable values so the whole struct serves as the dedup identity for
// state fetches: two byte-identical submissions collapse to one key.
type SignedOrder struct {
	MakerToken          string    `json:"makerToken"`
	TakerToken          string    `json:"takerToken"`
	MakerAmount         string    `json:"makerAmount"`
	TakerAmount         string    `json:"takerAmount"`
	TakerTokenFeeAmount string    `json:"takerTokenFeeAmount"`
	Maker               string    `json:"maker"`
	Taker               string    `json:"taker"`
	Sender              string    `json:"sender"`
	FeeRecipient        string    `json:"feeRecipient"`
	Pool                string    `json:"pool"`
	Expiry              uint64    `json:"expiry,string"`
	Salt                string    `json:"salt"`
	ChainID             uint64    `json:"chainId"`
	VerifyingContract   string    `json:"verifyingContract"`
	Signature           Signature `json:"signature"`
}

// Amount parses a decimal amount field.
func Amount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// Validate performs the pure, chain-independent-state checks an order must
// pass before its on-chain state is even worth fetching.
func (o *SignedOrder) Validate(chain ChainInfo) error {
	maker, err := Amount(o.MakerAmount)
	if err != nil {
		return err
	}
	taker, err := Amount(o.TakerAmount)
	if err != nil {
		return err
	}
	if maker.Sign() == 0 {
		return ErrZeroMakerAmount
	}
	if taker.Sign() == 0 {
		return ErrZeroTakerAmount
	}
	if strings.EqualFold(o.Maker, zeroAddress) || o.Maker == "" {
		return ErrInvalidMakerAddress
	}
	if chain.FlashWallet != "" && strings.EqualFold(o.Taker, chain.FlashWallet) {
		return ErrInvalidTakerAddress
	}
	if o.ChainID != chain.ChainID {
		return ErrInvalidVerifyingContract
	}
	if !strings.EqualFold(o.VerifyingContract, chain.Exchange) {
		return ErrInvalidVerifyingContract
	}
	return nil
}
