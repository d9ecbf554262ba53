// Package guid supplies the GUIDs a merge needs. Production runs draw random
// ones; tests and reproducible builds use a seeded sequence.
package guid

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Source produces GUID strings.
type Source interface {
	New() string
}

// Func adapts a plain function to Source.
type Func func() string

func (f Func) New() string { return f() }

// Random returns version 4 GUIDs.
type Random struct{}

func (Random) New() string { return uuid.NewString() }

// Sequence returns name-based GUIDs derived from a seed and a counter, so
// the n-th GUID of two sequences with the same seed is the same.
type Sequence struct {
	mu   sync.Mutex
	seed string
	n    uint64
}

func NewSequence(seed string) *Sequence {
	return &Sequence{seed: seed}
}

func (s *Sequence) New() string {
	s.mu.Lock()
	n := s.n
	s.n++
	s.mu.Unlock()
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.seed+"/"+strconv.FormatUint(n, 10))).String()
}
