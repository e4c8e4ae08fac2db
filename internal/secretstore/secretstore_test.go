package secretstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemory_GetKnownSecret(t *testing.T) {
	store := NewInMemory(map[string]string{"ssh_password": "hunter2"})

	v, err := store.Get("ssh_password")
	require.NoError(t, err)
	require.Equal(t, "hunter2", v)
}

func TestInMemory_GetUnknownSecretReturnsNotFound(t *testing.T) {
	store := NewInMemory(nil)

	_, err := store.Get("missing")
	require.Error(t, err)
	var notFound *ErrNotFound
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "missing", notFound.Name)
}

func TestInMemory_SetOverwritesExisting(t *testing.T) {
	store := NewInMemory(map[string]string{"key": "old"})
	store.Set("key", "new")

	v, err := store.Get("key")
	require.NoError(t, err)
	require.Equal(t, "new", v)
}
