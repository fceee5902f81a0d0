package jit

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerator_UsernameFormat(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{})
	pattern := regexp.MustCompile(`^argus[1-9][0-9]{2}_[a-z]{5}$`)

	for i := 0; i < 50; i++ {
		username := gen.Username()
		require.Regexp(t, pattern, username)
	}
}

func TestGenerator_UsernameCustomShape(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{
		UsernamePrefix: "tmp",
		UsernameDigits: 4,
		RandomLength:   8,
	})
	pattern := regexp.MustCompile(`^tmp[1-9][0-9]{3}_[a-z]{8}$`)

	for i := 0; i < 50; i++ {
		require.Regexp(t, pattern, gen.Username())
	}
}

func TestGenerator_PasswordClasses(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{Symbols: true})

	for i := 0; i < 50; i++ {
		password := gen.Password()
		require.Len(t, password, 16)
		require.True(t, strings.ContainsAny(password, lowerChars), "missing lowercase: %q", password)
		require.True(t, strings.ContainsAny(password, upperChars), "missing uppercase: %q", password)
		require.True(t, strings.ContainsAny(password, digitChars), "missing digit: %q", password)
		require.True(t, strings.ContainsAny(password, symbolChars), "missing symbol: %q", password)
	}
}

func TestGenerator_PasswordWithoutSymbols(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{PasswordLength: 24})

	for i := 0; i < 50; i++ {
		password := gen.Password()
		require.Len(t, password, 24)
		require.False(t, strings.ContainsAny(password, symbolChars), "unexpected symbol: %q", password)
	}
}

func TestGenerator_PasswordNeverContainsQuotes(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{Symbols: true, PasswordLength: 64})

	for i := 0; i < 50; i++ {
		require.False(t, strings.ContainsAny(gen.Password(), `'"\`+"`"))
	}
}

func TestGenerator_EnforcesMinimumPasswordLength(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{PasswordLength: 4})
	require.Len(t, gen.Password(), 16)
}
