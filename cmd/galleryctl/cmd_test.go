package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/service/internal/gallery"
	"github.com/gallery/service/internal/media"
)

func TestCommandStructure(t *testing.T) {
	for _, name := range []string{"migrate", "ingest", "albums", "assets", "delete", "register", "token"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			assert.NotEmpty(t, cmd.Use)
			assert.NotEmpty(t, cmd.Short)
		})
	}
}

// run executes one command line and resets the package-level flags.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	private, deleteAll = false, false
	ingestAlbum, ingestBackends = "", nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func sandbox(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("METADATA_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "gallery.db"))
	t.Setenv("LOCAL_UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("LOCAL_PUBLIC_BASE", "http://localhost:8080/static/uploads")
	t.Setenv("BACKEND_ORDER", "local")
	t.Setenv("NATIVE_LISTING", "local")
	t.Setenv("STORAGE_ENDPOINT", "")
	t.Setenv("CDN_CLOUD_NAME", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestIngestListDelete(t *testing.T) {
	dir := sandbox(t)
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("not an image, stored as-is"), 0o600))

	out, err := run(t, "ingest", "--album", "Field Notes", "--private", notes)
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded 1 of 1")

	out, err = run(t, "albums", "--private")
	require.NoError(t, err)
	var albums []media.Album
	require.NoError(t, json.Unmarshal([]byte(out), &albums))
	require.Len(t, albums, 1)
	assert.Equal(t, "Field Notes", albums[0].Name)

	out, err = run(t, "albums")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out), "private albums stay out of the public listing")

	_, err = run(t, "delete", "field notes", "--private")
	assert.Error(t, err, "needs --all or identifiers")

	out, err = run(t, "delete", "field notes", "--private", "--all")
	require.NoError(t, err)
	var report gallery.DeleteReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Deleted)

	entries, err := os.ReadDir(filepath.Join(dir, "uploads", "private", "Field Notes"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestFailsWhenNothingStored(t *testing.T) {
	dir := sandbox(t)
	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	out, err := run(t, "ingest", "--album", "beach", empty)
	assert.Error(t, err)
	assert.Contains(t, out, "FAIL empty.jpg")

	_, err = run(t, "ingest", "--album", "beach", "--backend", "tape", empty)
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestTokenPrintsJWT(t *testing.T) {
	sandbox(t)
	t.Setenv("JWT_SECRET", "s3cret")

	out, err := run(t, "token", "--subject", "alex")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))
}

// chdir changes the working directory for the duration of the test
// (stand-in for testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
