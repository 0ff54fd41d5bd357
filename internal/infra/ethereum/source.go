package ethereum

import (
	"context"
	"errors"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

var (
	// ErrNotFound means the node had no block for the requested id.
	ErrNotFound = errors.New("block not found")
	// ErrConnClosed means the connection died under an in-flight request.
	ErrConnClosed = errors.New("connection closed")
)

// Conn is one live connection to a header source: a push subscription plus
// on-demand header fetches over the same transport. The Headers channel is
// closed when the connection dies; Err then reports why.
type Conn interface {
	Headers() <-chan domain.Header
	LatestHeader(ctx context.Context) (domain.Header, error)
	HeaderByHash(ctx context.Context, hash string) (domain.Header, error)
	Err() error
	Close() error
}

// Source opens connections to a header source. The tip watcher redials
// through this on every connection cycle.
type Source interface {
	Connect(ctx context.Context) (Conn, error)
}

// ContractCaller performs a read-only contract call against the latest block.
type ContractCaller interface {
	CallContract(ctx context.Context, to string, data []byte) ([]byte, error)
}
