// Package instance identifies this engine host. The id prefixes every
// client order tag so orders from this host can be told apart at the broker.
package instance

import (
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

const appID = "options-engine"

var (
	once   sync.Once
	prefix string
)

// ID returns a short stable identifier for this machine. When the machine
// id cannot be read a random one is used for the life of the process.
func ID() string {
	once.Do(func() {
		id, err := machineid.ProtectedID(appID)
		if err != nil || len(id) < 8 {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		prefix = strings.ToUpper(id[:8])
	})
	return prefix
}

// NewTag returns a fresh client order tag owned by this host.
func NewTag() string {
	return ID() + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Owns reports whether tag was issued by this host.
func Owns(tag string) bool {
	return strings.HasPrefix(tag, ID()+"-")
}
