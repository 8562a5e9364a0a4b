package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/snapshot"
	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

func TestFileStore_SaveThenLoadKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "members.yaml")
	store := snapshot.NewFileStore(path)
	ctx := context.Background()

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	records := []models.MemberRecord{
		{ID: "b", Config: "cfg-b\nmultiline", Health: models.HealthHealthy, CreatedAt: created},
		{ID: "a", Config: "cfg-a", Health: models.HealthDegraded, CreatedAt: created.Add(time.Minute)},
	}
	require.NoError(t, store.Save(ctx, records))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestFileStore_SaveReplaces(t *testing.T) {
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "members.yaml"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []models.MemberRecord{{ID: "old", Config: "c", Health: models.HealthHealthy}}))
	require.NoError(t, store.Save(ctx, []models.MemberRecord{{ID: "new", Config: "c", Health: models.HealthHealthy}}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "new", loaded[0].ID)
}

func TestFileStore_Load(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    int
	}{
		{name: "missing file", want: 0},
		{name: "corrupt yaml", content: "members: [", wantErr: true},
		{name: "future version", content: "version: 99\nmembers: []\n", wantErr: true},
		{name: "hand written", content: "members:\n  - id: x\n    config: c\n    health: HEALTHY\n", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "members.yaml")
			if tt.content != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			}

			records, err := snapshot.NewFileStore(path).Load(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.SnapshotConfig
		wantName string
		wantErr  error
	}{
		{name: "default is none", cfg: config.SnapshotConfig{}, wantName: snapshot.TypeNone},
		{name: "file", cfg: config.SnapshotConfig{Type: "file", Path: "/tmp/x.yaml"}, wantName: snapshot.TypeFile},
		{name: "unknown", cfg: config.SnapshotConfig{Type: "s3"}, wantErr: snapshot.ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := snapshot.New(tt.cfg, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, store.Name())
		})
	}

	_, err := snapshot.New(config.SnapshotConfig{Type: "postgres"}, nil)
	assert.Error(t, err, "postgres needs a database")

	_, err = snapshot.New(config.SnapshotConfig{Type: "file"}, nil)
	assert.Error(t, err, "file needs a path")
}
