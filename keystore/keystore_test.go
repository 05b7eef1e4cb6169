package keystore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, Save(dir, kp))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, kp.Fingerprint(), loaded.Fingerprint())
	assert.Equal(t, []byte(kp.Private), []byte(loaded.Private))
}

func TestSaveSetsRestrictivePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits not applicable on windows")
	}

	dir := filepath.Join(t.TempDir(), "keys")
	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, Save(dir, kp))

	dirInfo, err := statMode(dir)
	require.NoError(t, err)
	assert.Equal(t, dirMode, dirInfo)

	privInfo, err := statMode(filepath.Join(dir, privateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, privateMode, privInfo)

	pubInfo, err := statMode(filepath.Join(dir, publicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, publicMode, pubInfo)
}

func TestExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	assert.False(t, Exists(dir))

	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, Save(dir, kp))
	assert.True(t, Exists(dir))
}

func TestLoadOrGenerateCreatesOnFirstCall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	second, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
}

func TestLoadRejectsTamperedFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, Save(dir, kp))

	other, err := Generate()
	require.NoError(t, err)
	require.NoError(t, Save(dir+"-other", other))

	// Swap in a mismatched public key.
	require.NoError(t, copyFile(filepath.Join(dir+"-other", publicKeyFile), filepath.Join(dir, publicKeyFile)))

	_, err = Load(dir)
	require.Error(t, err)
}

func statMode(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return int(info.Mode().Perm()), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, publicMode)
}
