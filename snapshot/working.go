package snapshot

import (
	"encoding/binary"
	"fmt"
	"maps"
)

// Working is the private, mutable view handed to an update transaction.
// It must not be retained after the transaction body returns; once the
// transaction ends every method panics.
type Working struct {
	base  *Snapshot
	words map[int]uint16
	done  bool
}

func newWorking(base *Snapshot) *Working {
	return &Working{base: base}
}

// close detaches the view from the published map.
func (w *Working) close() {
	w.done = true
	w.base = nil
	w.words = nil
}

func (w *Working) checkOpen() {
	if w.done {
		panic("snapshot: working view used after its transaction ended")
	}
}

func (w *Working) ensureWritable() {
	w.checkOpen()
	if w.words == nil {
		w.words = maps.Clone(w.base.words)
		if w.words == nil {
			w.words = make(map[int]uint16)
		}
	}
}

func (w *Working) view() map[int]uint16 {
	w.checkOpen()
	if w.words != nil {
		return w.words
	}
	return w.base.words
}

// Word returns the word currently visible to the transaction.
func (w *Working) Word(addr int) (uint16, bool) {
	v, ok := w.view()[addr]
	return v, ok
}

// SetWord stores a single word.
func (w *Working) SetWord(addr int, value uint16) {
	w.ensureWritable()
	w.words[addr] = value
}

// SetWords stores words at consecutive addresses starting at start.
func (w *Working) SetWords(start int, words []uint16) {
	for i, v := range words {
		w.SetWord(start+i, v)
	}
}

// SetBytes stores a big-endian register payload as returned by Modbus reads.
func (w *Working) SetBytes(start int, raw []byte) error {
	if len(raw)%2 != 0 {
		return fmt.Errorf("register payload has odd length %d", len(raw))
	}
	for i := 0; i < len(raw); i += 2 {
		w.SetWord(start+i/2, binary.BigEndian.Uint16(raw[i:]))
	}
	return nil
}

// SetSparse stores every address/word pair of values.
func (w *Working) SetSparse(values map[int]uint16) {
	for addr, v := range values {
		w.SetWord(addr, v)
	}
}

// Remove drops addresses from the view so they read as unavailable.
func (w *Working) Remove(addrs ...int) {
	w.ensureWritable()
	for _, addr := range addrs {
		delete(w.words, addr)
	}
}

// Reset clears every word so the transaction replaces the snapshot wholesale.
func (w *Working) Reset() {
	w.checkOpen()
	w.words = make(map[int]uint16)
}

// Changed reports whether the view differs from the snapshot the transaction
// started from.
func (w *Working) Changed() bool {
	w.checkOpen()
	if w.words == nil {
		return false
	}
	return !maps.Equal(w.words, w.base.words)
}

func (w *Working) result() map[int]uint16 {
	if w.words == nil {
		return w.base.words
	}
	return w.words
}
