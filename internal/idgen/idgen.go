// Package idgen produces ad selection ids.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Generator yields candidate ids. Uniqueness is checked by the caller against storage.
type Generator interface {
	Next() (int64, error)
}

// Random draws positive 63-bit ids from crypto/rand.
type Random struct{}

func (Random) Next() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	id := int64(binary.BigEndian.Uint64(b[:]) &^ (1 << 63))
	if id == 0 {
		id = 1
	}
	return id, nil
}

// Sequence replays fixed ids, then repeats the last one. Used to force collisions.
type Sequence struct {
	IDs []int64
	i   int
}

func (s *Sequence) Next() (int64, error) {
	if len(s.IDs) == 0 {
		return 0, fmt.Errorf("empty id sequence")
	}
	id := s.IDs[s.i]
	if s.i < len(s.IDs)-1 {
		s.i++
	}
	return id, nil
}
