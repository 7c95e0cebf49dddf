package generator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator is an interface that defines a method to generate a new value of type T.
// Run IDs are drawn from a Generator[string].
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator is a generator that produces UUIDv4 strings.
// It implements the Generator interface.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// SequenceGenerator yields deterministic UUIDs ending in an increasing
// counter. It is safe for concurrent use.
type SequenceGenerator struct {
	mu sync.Mutex
	n  uint64
}

func (g *SequenceGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", g.n), nil
}

var _ Generator[string] = &SequenceGenerator{}
