package credentials_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/credentials"
	"github.com/titan-scanner/core/pkg/types"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	store := credentials.New(path)

	secrets := map[string]types.VenueCredential{
		"binance": {APIKey: "key-1", APISecret: "secret-1"},
	}
	require.NoError(t, store.Save("correct horse battery", secrets))

	loaded, err := store.Load("correct horse battery")
	require.NoError(t, err)
	require.Equal(t, secrets, loaded)
}

func TestLoadFailsWithWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	store := credentials.New(path)

	require.NoError(t, store.Save("correct horse battery", map[string]types.VenueCredential{
		"binance": {APIKey: "key-1", APISecret: "secret-1"},
	}))

	_, err := store.Load("wrong password here")
	require.ErrorIs(t, err, credentials.ErrAuthenticationFailed)
}

func TestSaveRejectsShortPassword(t *testing.T) {
	store := credentials.New(filepath.Join(t.TempDir(), "secrets.json"))
	err := store.Save("short", map[string]types.VenueCredential{})
	require.ErrorIs(t, err, credentials.ErrPasswordTooShort)
}

func TestSaveWritesOwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	store := credentials.New(path)
	require.NoError(t, store.Save("correct horse battery", map[string]types.VenueCredential{}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestChangePasswordReencryptsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	store := credentials.New(path)

	secrets := map[string]types.VenueCredential{"bybit": {APIKey: "k", APISecret: "s"}}
	require.NoError(t, store.Save("correct horse battery", secrets))
	require.NoError(t, store.ChangePassword("correct horse battery", "new passphrase here"))

	_, err := store.Load("correct horse battery")
	require.Error(t, err)

	loaded, err := store.Load("new passphrase here")
	require.NoError(t, err)
	require.Equal(t, secrets, loaded)
}
