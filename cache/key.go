package cache

import (
	"encoding/binary"

	"github.com/IvanBrykalov/asyncdatacache/internal/util"
)

// FileID identifies a file in the interned file-id namespace (internal/fileids).
// The zero value means "cleared": an Entry whose key carries FileID 0 is present
// in the shard's slot vector but not reachable through the lookup map.
type FileID uint64

// clearedFileID marks an Entry as unfindable. See the entry states
// documented on the entry type in entry.go.
const clearedFileID FileID = 0

// Key identifies one cached byte range: an offset within an interned file.
type Key struct {
	FileID FileID
	Offset uint64
}

// cleared reports whether this key no longer addresses a findable entry.
func (k Key) cleared() bool { return k.FileID == clearedFileID }

// hash computes a 64-bit FNV-1a digest of the key, used for shard selection.
// Keys are fixed-size, so packing them into the [16]byte form util.Fnv64a
// accepts never allocates.
func (k Key) hash() uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(k.FileID))
	binary.LittleEndian.PutUint64(b[8:16], k.Offset)
	return util.Fnv64a(b)
}
