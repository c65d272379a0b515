// Package uuid mints crawl identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered (v7) crawl IDs.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() Generator {
	return Generator{}
}

// NewID returns a v7 UUID string.
func (g Generator) NewID() (string, error) {
	id, err := g.NewRawID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRawID returns a v7 UUID.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate crawl id: %w", err)
	}
	return id, nil
}
