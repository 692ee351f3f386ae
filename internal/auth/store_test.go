package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cred := &Credential{
		UserIdentity:   "alice@example.com",
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		Expiry:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		GrantedScopes:  []string{ScopeUserRead, ScopeTeamRead},
		OAuthSessionID: "session-1",
	}
	require.NoError(t, store.Put(cred))

	got, err := store.Get("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, cred.UserIdentity, got.UserIdentity)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.Equal(t, cred.RefreshToken, got.RefreshToken)
	assert.True(t, cred.Expiry.Equal(got.Expiry))
	assert.Equal(t, cred.GrantedScopes, got.GrantedScopes)
	assert.Equal(t, cred.OAuthSessionID, got.OAuthSessionID)
}

func TestFileStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("nobody@example.com")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestFileStoreGetEmptyIdentity(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestFileStorePutReplacesWhole(t *testing.T) {
	store := newTestStore(t)

	first := &Credential{
		UserIdentity:  "alice@example.com",
		AccessToken:   "access-1",
		RefreshToken:  "refresh-1",
		GrantedScopes: []string{ScopeUserRead, ScopeTeamRead},
	}
	require.NoError(t, store.Put(first))

	// The replacement carries fewer scopes; none of the old record may
	// survive the replace.
	second := &Credential{
		UserIdentity: "alice@example.com",
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
	}
	require.NoError(t, store.Put(second))

	got, err := store.Get("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	assert.Empty(t, got.GrantedScopes)
}

func TestFileStorePutLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(&Credential{UserIdentity: "alice@example.com", AccessToken: "a"}))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"),
			"temp file left behind: %s", entry.Name())
	}
}

func TestFileStorePutRestrictsPermissions(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(&Credential{UserIdentity: "alice@example.com", AccessToken: "a"}))

	info, err := os.Stat(filepath.Join(store.Dir(), "alice@example.com.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStorePutRejectsMissingIdentity(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.Put(&Credential{AccessToken: "a"}))
	assert.Error(t, store.Put(nil))
}

func TestFileStoreCorruptRecordTreatedAsNotFound(t *testing.T) {
	store := newTestStore(t)

	path := filepath.Join(store.Dir(), "alice@example.com.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := store.Get("alice@example.com")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestFileStoreDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(&Credential{UserIdentity: "alice@example.com", AccessToken: "a"}))
	require.NoError(t, store.Delete("alice@example.com"))

	_, err := store.Get("alice@example.com")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	assert.ErrorIs(t, store.Delete("alice@example.com"), ErrCredentialNotFound)
}

func TestFileStoreListAll(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(&Credential{UserIdentity: "alice@example.com", AccessToken: "a"}))
	require.NoError(t, store.Put(&Credential{UserIdentity: "bob@example.com", AccessToken: "b"}))

	// A corrupt record must be skipped, not fail the listing.
	corrupt := filepath.Join(store.Dir(), "corrupt@example.com.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("garbage"), 0600))

	creds, err := store.ListAll()
	require.NoError(t, err)
	assert.Len(t, creds, 2)
}

func TestFileStoreIsolatesIdentities(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(&Credential{UserIdentity: "alice@example.com", AccessToken: "a"}))
	require.NoError(t, store.Put(&Credential{UserIdentity: "bob@example.com", AccessToken: "b"}))

	alice, err := store.Get("alice@example.com")
	require.NoError(t, err)
	bob, err := store.Get("bob@example.com")
	require.NoError(t, err)

	assert.Equal(t, "a", alice.AccessToken)
	assert.Equal(t, "b", bob.AccessToken)
}

func TestSanitizeIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		want     string
	}{
		{
			name:     "plain email unchanged",
			identity: "alice@example.com",
			want:     "alice@example.com",
		},
		{
			name:     "path separators replaced",
			identity: "alice/../../etc/passwd",
			want:     "alice_____etc_passwd",
		},
		{
			name:     "backslashes replaced",
			identity: `alice\bob`,
			want:     "alice_bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeIdentity(tt.identity))
		})
	}
}
