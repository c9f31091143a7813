package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveFromEmail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		email string
		want  string
		ok    bool
	}{
		{"a.lee@acme.com", "A Lee", true},
		{"alice@acme.com", "Alice", true},
		{"mary.jane.watson@x.io", "Mary Jane Watson", true},
		{"john..doe@x.io", "John Doe", true},
		{"...@x.io", "", false},
		{"@x.io", "", false},
		{"", "", false},
		{"no-at-sign", "", false},
	}

	for _, tt := range tests {
		got, ok := DeriveFromEmail(tt.email)
		assert.Equal(t, tt.ok, ok, tt.email)
		assert.Equal(t, tt.want, got, tt.email)
	}
}

func TestDeriveFromIdentifier(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Tutor 68a0", DeriveFromIdentifier("tutor", "5f0c9a3e-1b7d-4c02-9e55-a1b2c3d468a0"))
	assert.Equal(t, "Student 68a0", DeriveFromIdentifier("STUDENT", "x68a0"))
	assert.Equal(t, "User abc", DeriveFromIdentifier("", "abc"))
}

func TestFullName(t *testing.T) {
	t.Parallel()
	name, ok := FullName(" Ada", "Lovelace ")
	assert.True(t, ok)
	assert.Equal(t, "Ada Lovelace", name)

	for _, pair := range [][2]string{{"Ada", ""}, {"", "Lovelace"}, {"undefined", "Lovelace"}, {"Ada", "NULL"}} {
		_, ok := FullName(pair[0], pair[1])
		assert.False(t, ok, pair)
	}
}

func TestSplitName(t *testing.T) {
	t.Parallel()
	first, last := SplitName("Mary Jane Watson")
	assert.Equal(t, "Mary", first)
	assert.Equal(t, "Jane Watson", last)

	first, last = SplitName("Alice")
	assert.Equal(t, "Alice", first)
	assert.Empty(t, last)
}
