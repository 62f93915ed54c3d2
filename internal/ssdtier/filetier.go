package ssdtier

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// FileTier is a demo Tier: writes arrive as a zstd-compressed append-only
// batch to a single file. There is no index, no checksum recovery, and no
// attempt to read the file back -- this module's cache never reads from
// the SSD tier itself (out of scope: cross-process sharing and
// in-memory/SSD consistency are both explicitly out of scope), so the
// write path only needs to exist, not to round-trip.
type FileTier struct {
	path       string
	maxBytes   int64
	groupStats GroupStats

	mu      sync.Mutex
	file    *os.File
	writing atomic.Bool
}

// NewFileTier opens (creating if necessary) path for appending and returns
// a Tier backed by it. maxBytes bounds the admission filter's notion of
// "how much headroom the tier has left" (see freqGroupStats).
func NewFileTier(path string, maxBytes int64) (*FileTier, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileTier{
		path:       path,
		maxBytes:   maxBytes,
		groupStats: NewFreqGroupStats(2),
		file:       f,
	}, nil
}

func (t *FileTier) StartWrite() bool {
	return t.writing.CompareAndSwap(false, true)
}

func (t *FileTier) WriteInProgress() bool { return t.writing.Load() }

func (t *FileTier) MaxBytes() int64 { return t.maxBytes }

func (t *FileTier) GroupStats() GroupStats { return t.groupStats }

// Write compresses and appends the batch on a background goroutine, then
// releases every pin and clears the in-progress flag. Errors are swallowed
// by design: the SSD tier is advisory, and a failed save simply means the
// data stays memory-only, which is always safe.
func (t *FileTier) Write(pins []Pin) {
	go func() {
		defer t.writing.Store(false)
		defer func() {
			for _, p := range pins {
				p.Release()
			}
		}()
		t.writeBatch(pins)
	}()
}

func (t *FileTier) writeBatch(pins []Pin) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return
	}
	defer enc.Close()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range pins {
		raw := p.Bytes()
		compressed := enc.EncodeAll(raw, nil)

		var header [8]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(compressed)))
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(raw)))
		if _, err := t.file.Write(header[:]); err != nil {
			return
		}
		if _, err := t.file.Write(compressed); err != nil {
			return
		}
	}
}

// Close releases the underlying file. Safe to call once after all writes
// have drained (callers should stop issuing Write calls first).
func (t *FileTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
