package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

func writeConfig(t *testing.T, storeDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunkvault.yaml")
	content := "log_level: error\n" +
		"backend:\n" +
		"  type: local\n" +
		"  base_dir: " + storeDir + "\n" +
		"encryption:\n" +
		"  chunk_size: \"4\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEncryptListDecrypt(t *testing.T) {
	store := t.TempDir()
	cfg := writeConfig(t, store)

	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte("Hello, World!"), 0o600))

	out, err := run(t, "--config", cfg, "encrypt", "-f", input, "-o", "enc")
	require.NoError(t, err)
	assert.Contains(t, out, "location: enc")
	assert.Contains(t, out, "keystore: "+crypto.DocumentKey("enc"))
	assert.Contains(t, out, "chunks:   4")

	out, err = run(t, "--config", cfg, "list", "-d", "enc")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, "enc/"+string(rune('0'+i))+"_"), "line %d: %s", i, line)
	}

	output := filepath.Join(t.TempDir(), "restored.txt")
	out, err = run(t, "--config", cfg, "decrypt", "-l", "enc", "-o", output, "-d")
	require.NoError(t, err)
	assert.Contains(t, out, "output: "+output)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(got))

	out, err = run(t, "--config", cfg, "list", "-d", "enc")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
	_, err = os.Stat(filepath.Join(store, crypto.DocumentKey("enc")))
	assert.True(t, os.IsNotExist(err), "keystore document should be removed")
}

func TestEncrypt_KeystoreOutAndDefaultOutput(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	input := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(input, []byte("a,b\n1,2\n"), 0o600))
	keystore := filepath.Join(t.TempDir(), "keystore.json")

	out, err := run(t, "--config", cfg, "encrypt", "-f", input, "-c", "3", "--keystore-out", keystore)
	require.NoError(t, err)
	assert.Contains(t, out, "chunks:   3")

	doc, err := os.ReadFile(keystore)
	require.NoError(t, err)
	ks, err := crypto.ParseDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, input, ks.SourceIdentity)
	assert.NotEmpty(t, ks.StorageLocation, "a random location should be chosen")

	work := t.TempDir()
	t.Chdir(work)
	_, err = run(t, "--config", cfg, "decrypt", "-k", keystore, "-d")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(work, "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))

	_, err = os.Stat(keystore)
	assert.True(t, os.IsNotExist(err), "local keystore should be removed with -d")
}

func TestDecrypt_RefusesExistingOutput(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte("secret"), 0o600))
	_, err := run(t, "--config", cfg, "encrypt", "-f", input, "-o", "enc")
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "existing.txt")
	require.NoError(t, os.WriteFile(output, []byte("keep me"), 0o600))

	_, err = run(t, "--config", cfg, "decrypt", "-l", "enc", "-o", output)
	require.Error(t, err)
	assert.ErrorIs(t, err, vaulterr.ErrIO)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))
}

func TestClear(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte("0123456789"), 0o600))
	_, err := run(t, "--config", cfg, "encrypt", "-f", input, "-o", "runs/1")
	require.NoError(t, err)

	out, err := run(t, "--config", cfg, "clear", "-d", "runs/1")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared: runs/1")

	_, err = run(t, "--config", cfg, "decrypt", "-l", "runs/1", "-o", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, vaulterr.ErrStorage)
}

func TestPrintMetrics(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte("Hello, World!"), 0o600))

	out, err := run(t, "--config", cfg, "--print-metrics", "encrypt", "-f", input, "-o", "enc")
	require.NoError(t, err)
	assert.Contains(t, out, "location: enc")
	assert.Contains(t, out, `chunkvault_chunk_operations_total{operation="encrypt"} 4`)
	assert.Contains(t, out, `chunkvault_sessions_total{operation="encrypt",outcome="success"} 1`)
	assert.Contains(t, out, `chunkvault_storage_operations_total{backend="local",operation="put"} 5`)
}

func TestEncrypt_RefusesUsedLocation(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	input := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte("first"), 0o600))
	_, err := run(t, "--config", cfg, "encrypt", "-f", input, "-o", "enc")
	require.NoError(t, err)

	_, err = run(t, "--config", cfg, "encrypt", "-f", input, "-o", "enc")
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindConfig, vaulterr.KindOf(err))
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	_, err := run(t, "--config", cfg, "--backend", "ftp", "list", "-d", "enc")
	require.Error(t, err)
	assert.Equal(t, vaulterr.KindConfig, vaulterr.KindOf(err))

	_, err = run(t, "--config", cfg, "encrypt", "-f", "missing.txt", "-c", "0")
	assert.Equal(t, vaulterr.KindConfig, vaulterr.KindOf(err))
}
