package domain

import "errors"

var (
	ErrNumberMissing = errors.New("invalid header received: number missing")
	ErrHashMissing   = errors.New("invalid header received: hash missing")
)

// Header identifies a block. Only the fields the watcher reasons about are
// kept; everything else the node returns is dropped at decode time.
type Header struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  uint64
}
