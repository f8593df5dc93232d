package rotation

import (
	"crypto/rand"
	"fmt"
)

// 64 characters so every random byte maps to the alphabet without bias.
const valueAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

const DefaultValueLength = 32

// Generator produces replacement secret values for generated rotation.
type Generator struct {
	Length int
}

func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultValueLength
	}
	return &Generator{Length: length}
}

// NewValue returns a random URL-safe string of the configured length.
func (g *Generator) NewValue() (string, error) {
	buf := make([]byte, g.Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("rotation: read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = valueAlphabet[b&63]
	}
	return string(buf), nil
}
