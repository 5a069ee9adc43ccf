package remote

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	a := gen.Generate()
	b := gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestULIDGenerator_Monotonic(t *testing.T) {
	gen := NewULIDGenerator()

	prev := gen.Generate()
	for i := 0; i < 100; i++ {
		next := gen.Generate()
		_, err := ulid.ParseStrict(next)
		require.NoError(t, err)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("k1", "k2")

	assert.Equal(t, "k1", gen.Generate())
	assert.Equal(t, "k2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestKeyGeneratorFor(t *testing.T) {
	g, ok := KeyGeneratorFor("")
	require.True(t, ok)
	assert.IsType(t, UUIDv7Generator{}, g)

	g, ok = KeyGeneratorFor("ulid")
	require.True(t, ok)
	assert.IsType(t, &ULIDGenerator{}, g)

	_, ok = KeyGeneratorFor("sequential")
	assert.False(t, ok)
}
