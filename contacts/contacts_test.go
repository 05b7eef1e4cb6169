package contacts

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshare/rshare/identity"
)

func validFingerprint(t *testing.T) string {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp.Fingerprint()
}

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, s.List())
}

func TestAddFindListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	fp := validFingerprint(t)
	require.NoError(t, s.Add("alice", fp, "met at conference"))

	found, err := s.Find("alice")
	require.NoError(t, err)
	assert.Equal(t, fp, found.Fingerprint)
	assert.Equal(t, "met at conference", found.Note)
	assert.Len(t, s.List(), 1)
}

func TestAddRejectsDuplicateName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	fp := validFingerprint(t)
	require.NoError(t, s.Add("alice", fp, ""))
	err = s.Add("alice", validFingerprint(t), "")
	require.Error(t, err)
}

func TestAddRejectsMalformedFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	err = s.Add("bob", "not-a-fingerprint", "")
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	fp := validFingerprint(t)
	require.NoError(t, s.Add("alice", fp, ""))
	require.NoError(t, s.Remove("alice"))

	_, err = s.Find("alice")
	require.Error(t, err)
}

func TestRemoveUnknownContact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	err = s.Remove("ghost")
	require.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	s, err := Load(path)
	require.NoError(t, err)

	fp := validFingerprint(t)
	require.NoError(t, s.Add("alice", fp, "friend"))
	require.NoError(t, s.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	found, err := reloaded.Find("alice")
	require.NoError(t, err)
	assert.Equal(t, fp, found.Fingerprint)
	assert.Equal(t, "friend", found.Note)
}
