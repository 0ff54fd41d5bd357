package ethereum

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

// headerJSON is the subset of an eth block/header object the watcher needs.
// Quantity fields arrive as 0x-prefixed hex strings.
type headerJSON struct {
	Number     *string `json:"number"`
	Hash       *string `json:"hash"`
	ParentHash string  `json:"parentHash"`
	Timestamp  string  `json:"timestamp"`
}

func decodeHeader(raw json.RawMessage) (domain.Header, error) {
	var h headerJSON
	if err := json.Unmarshal(raw, &h); err != nil {
		return domain.Header{}, fmt.Errorf("decode header: %w", err)
	}
	// Pending blocks carry null number/hash; the watcher cannot use them.
	if h.Number == nil || *h.Number == "" {
		return domain.Header{}, domain.ErrNumberMissing
	}
	if h.Hash == nil || *h.Hash == "" {
		return domain.Header{}, domain.ErrHashMissing
	}
	number, err := parseHexUint(*h.Number)
	if err != nil {
		return domain.Header{}, fmt.Errorf("decode header number: %w", err)
	}
	var timestamp uint64
	if h.Timestamp != "" {
		if timestamp, err = parseHexUint(h.Timestamp); err != nil {
			return domain.Header{}, fmt.Errorf("decode header timestamp: %w", err)
		}
	}
	return domain.Header{
		Number:     number,
		Hash:       strings.ToLower(*h.Hash),
		ParentHash: strings.ToLower(h.ParentHash),
		Timestamp:  timestamp,
	}, nil
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}
