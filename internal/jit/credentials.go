package jit

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	defaultUsernamePrefix = "argus"
	defaultUsernameDigits = 3
	defaultRandomLength   = 5
	defaultPasswordLength = 16

	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars = "0123456789"
	// No quotes or backslash: generated values are embedded in DDL the
	// engines refuse to parameterize.
	symbolChars = "!#$%&()*+,-./:;<=>?@[]^_{|}~"
)

// GeneratorConfig controls the shape of generated JIT identifiers.
type GeneratorConfig struct {
	UsernamePrefix string
	UsernameDigits int
	RandomLength   int
	PasswordLength int
	Symbols        bool
}

// Generator produces usernames and passwords for ephemeral accounts from a
// cryptographically secure source. A failing random source is a process-level
// error and panics.
type Generator struct {
	cfg GeneratorConfig
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.UsernamePrefix == "" {
		cfg.UsernamePrefix = defaultUsernamePrefix
	}
	if cfg.UsernameDigits <= 0 {
		cfg.UsernameDigits = defaultUsernameDigits
	}
	if cfg.RandomLength <= 0 {
		cfg.RandomLength = defaultRandomLength
	}
	if cfg.PasswordLength < 8 {
		cfg.PasswordLength = defaultPasswordLength
	}
	return &Generator{cfg: cfg}
}

// Username returns a value like "argus482_kdqpm": prefix, fixed-width random
// number, lowercase random suffix. Short enough for MySQL's 32-char user
// limit at any configured width.
func (g *Generator) Username() string {
	low := pow10(g.cfg.UsernameDigits - 1)
	high := pow10(g.cfg.UsernameDigits)
	number := low + randInt(high-low)

	var b strings.Builder
	b.WriteString(g.cfg.UsernamePrefix)
	fmt.Fprintf(&b, "%d_", number)
	for i := 0; i < g.cfg.RandomLength; i++ {
		b.WriteByte(lowerChars[randInt(int64(len(lowerChars)))])
	}
	return b.String()
}

// Password returns a random password containing at least one lowercase
// letter, one uppercase letter, one digit and, when enabled, one symbol.
func (g *Generator) Password() string {
	classes := []string{lowerChars, upperChars, digitChars}
	if g.cfg.Symbols {
		classes = append(classes, symbolChars)
	}
	alphabet := strings.Join(classes, "")

	out := make([]byte, g.cfg.PasswordLength)
	for i := range out {
		out[i] = alphabet[randInt(int64(len(alphabet)))]
	}
	// Guarantee one character per class, at random positions.
	positions := randPerm(len(out), len(classes))
	for i, class := range classes {
		out[positions[i]] = class[randInt(int64(len(class)))]
	}
	return string(out)
}

func randInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		panic("jit: secure random source unavailable: " + err.Error())
	}
	return v.Int64()
}

// randPerm returns k distinct indices in [0, n).
func randPerm(n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + int(randInt(int64(n-i)))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
