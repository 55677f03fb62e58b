package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryTokenStorage_StoreRetrieveRemove(t *testing.T) {
	storage := NewInMemoryTokenStorage()

	require.NoError(t, storage.StoreToken("s1", "n1"))

	nonce, err := storage.RetrieveToken("s1")
	require.NoError(t, err)
	require.Equal(t, "n1", nonce)

	require.NoError(t, storage.RemoveToken("s1"))

	_, err = storage.RetrieveToken("s1")
	require.Error(t, err)
}

func TestInMemoryTokenStorage_StoreOverwrites(t *testing.T) {
	storage := NewInMemoryTokenStorage()

	require.NoError(t, storage.StoreToken("s1", "n1"))
	require.NoError(t, storage.StoreToken("s1", "n2"))

	nonce, err := storage.RetrieveToken("s1")
	require.NoError(t, err)
	require.Equal(t, "n2", nonce)
}

func TestInMemoryTokenStorage_RemoveMissingIsError(t *testing.T) {
	storage := NewInMemoryTokenStorage()
	require.Error(t, storage.RemoveToken("never-stored"))
}
