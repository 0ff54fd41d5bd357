package ethereum

import (
	"errors"
	"testing"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

func TestDecodeHeader(t *testing.T) {
	raw := []byte(`{
		"number": "0x1b4",
		"hash": "0xAB00000000000000000000000000000000000000000000000000000000000001",
		"parentHash": "0xCD00000000000000000000000000000000000000000000000000000000000002",
		"timestamp": "0x6553f100"
	}`)

	header, err := decodeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if header.Number != 436 {
		t.Fatalf("unexpected number %d", header.Number)
	}
	if header.Hash != "0xab00000000000000000000000000000000000000000000000000000000000001" {
		t.Fatalf("hash not normalized: %s", header.Hash)
	}
	if header.ParentHash != "0xcd00000000000000000000000000000000000000000000000000000000000002" {
		t.Fatalf("parent hash not normalized: %s", header.ParentHash)
	}
	if header.Timestamp != 0x6553f100 {
		t.Fatalf("unexpected timestamp %d", header.Timestamp)
	}
}

func TestDecodeHeader_PendingBlock(t *testing.T) {
	// Pending blocks carry null number and hash.
	if _, err := decodeHeader([]byte(`{"number": null, "hash": "0xab"}`)); !errors.Is(err, domain.ErrNumberMissing) {
		t.Fatalf("expected missing number, got %v", err)
	}
	if _, err := decodeHeader([]byte(`{"number": "0x1", "hash": null}`)); !errors.Is(err, domain.ErrHashMissing) {
		t.Fatalf("expected missing hash, got %v", err)
	}
}

func TestDecodeHeader_Malformed(t *testing.T) {
	if _, err := decodeHeader([]byte(`{"number": "0xzz", "hash": "0xab"}`)); err == nil {
		t.Fatal("expected error for bad hex quantity")
	}
	if _, err := decodeHeader([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
