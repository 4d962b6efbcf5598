package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateCodecRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	codec, err := NewPrivateCodec(key)
	require.NoError(t, err)

	pt := []byte("private memory payload")
	ct, err := codec.Seal("memory_private", "k1", pt)
	require.NoError(t, err)
	assert.NotEqual(t, pt, ct)

	got, err := codec.Open("memory_private", "k1", ct)
	require.NoError(t, err)
	assert.Equal(t, pt, got)
}

func TestPrivateCodecRejectsWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	codec, err := NewPrivateCodec(key)
	require.NoError(t, err)

	ct, err := codec.Seal("memory_private", "k1", []byte("data"))
	require.NoError(t, err)

	_, err = codec.Open("memory_private", "k2", ct)
	assert.Error(t, err)
}
