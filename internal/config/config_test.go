package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomscore/internal/blob"
	"tomscore/pkg/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TOMS_STORAGE_DRIVER", "TOMS_SQLITE_PATH", "TOMS_ARCHIVE_DRIVER", "TOMS_LOG_LEVEL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	cfg, err := Load([]string{})
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.StorageDriver)
	assert.Equal(t, "tomscore.db", cfg.SQLitePath)
	assert.Equal(t, "fs", cfg.Archive.Driver)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TOMS_STORAGE_DRIVER=memory\nTOMS_ARCHIVE_DRIVER=memory\nTOMS_LOG_FORMAT=json\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("TOMS_STORAGE_DRIVER")
		os.Unsetenv("TOMS_ARCHIVE_DRIVER")
		os.Unsetenv("TOMS_LOG_FORMAT")
	})

	n, err := LoadEnv([]string{envFile, filepath.Join(dir, ".env.local")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg, err := Load([]string{envFile})
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, "json", cfg.LogFormat)

	store, err := cfg.OpenArchive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blob.DriverMemory, store.Driver())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"sqlite fs", Config{StorageDriver: "SQLite", Archive: ArchiveOptions{Driver: "fs"}}, true},
		{"postgres without dsn", Config{StorageDriver: "postgres", Archive: ArchiveOptions{Driver: "none"}}, false},
		{"postgres with dsn", Config{StorageDriver: "postgres", PostgresDSN: "postgres://x", Archive: ArchiveOptions{Driver: "none"}}, true},
		{"unknown storage", Config{StorageDriver: "mysql", Archive: ArchiveOptions{Driver: "none"}}, false},
		{"s3 without bucket", Config{StorageDriver: "memory", Archive: ArchiveOptions{Driver: "s3"}}, false},
		{"s3 with bucket", Config{StorageDriver: "memory", Archive: ArchiveOptions{Driver: "s3", S3: S3Options{Bucket: "b"}}}, true},
		{"unknown archive", Config{StorageDriver: "memory", Archive: ArchiveOptions{Driver: "ftp"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBlobConfigMapping(t *testing.T) {
	cfg := Config{Archive: ArchiveOptions{Driver: "s3", S3: S3Options{Bucket: "b", Prefix: "p", PathStyle: true}}}
	bc := cfg.BlobConfig()
	assert.Equal(t, blob.DriverS3, bc.Driver)
	assert.Equal(t, "b", bc.S3.Bucket)
	assert.Equal(t, "p", bc.S3.Prefix)
	assert.True(t, bc.S3.PathStyle)
}

func TestParseLayers(t *testing.T) {
	layers, err := ParseLayers([]byte(`
layers:
  - id: 5
    name: Signs
  - id: 3
    name: Lines
  - id: 3
    name: Lines.label_pos
  - id: 2
    name: Bays
`))
	require.NoError(t, err)
	assert.Equal(t, []domain.RestrictionLayer{
		{ID: 2, Name: "Bays"},
		{ID: 3, Name: "Lines"},
		{ID: 3, Name: "Lines.label_pos"},
		{ID: 5, Name: "Signs"},
	}, layers)

	_, err = ParseLayers([]byte("layers: []"))
	assert.Error(t, err)
	_, err = ParseLayers([]byte("layers:\n  - id: 0\n    name: X\n"))
	assert.Error(t, err)
	_, err = ParseLayers([]byte("layers:\n  - id: 2\n    name: Bays\n  - id: 4\n    name: Bays\n"))
	assert.Error(t, err)
}

func TestLoadLayersDefaultsAndFile(t *testing.T) {
	layers, err := LoadLayers("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLayers(), layers)

	path := filepath.Join(t.TempDir(), "layers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layers:\n  - id: 6\n    name: CPZs\n"), 0o600))
	layers, err = LoadLayers(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.RestrictionLayer{{ID: 6, Name: "CPZs"}}, layers)

	_, err = LoadLayers(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
