package document

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     io.Reader
	entropyOnce sync.Once
)

func defaultEntropy() io.Reader {
	entropyOnce.Do(func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		entropy = &ulid.LockedMonotonicReader{
			MonotonicReader: ulid.Monotonic(rng, 0),
		}
	})
	return entropy
}

// NewNodeID returns a fresh node id. Ids sort by creation time, which keeps
// anchors stable and readable in stored documents.
func NewNodeID() NodeID {
	return NodeID(ulid.MustNew(ulid.Timestamp(time.Now()), defaultEntropy()).String())
}
