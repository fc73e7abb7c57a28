package emailutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "lowercase", input: "user@example.com", expected: "user@example.com"},
		{name: "uppercase", input: "USER@EXAMPLE.COM", expected: "user@example.com"},
		{name: "surrounding whitespace", input: "  Admin@Example.com \n", expected: "admin@example.com"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("a@example.com"))
	assert.Equal(t, "", ExtractDomain("not-an-email"))
	assert.Equal(t, "", ExtractDomain("a@b@c"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("a@b.com"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("a@"))
	assert.False(t, IsValid("Alice <a@b.com>"))
	assert.False(t, IsValid("plainaddress"))
}
