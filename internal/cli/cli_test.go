package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/egress-gateway/internal/snapshot"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTiersCommand(t *testing.T) {
	out, err := execute(t, "tiers")
	require.NoError(t, err)
	assert.Contains(t, out, "free")
	assert.Contains(t, out, "standard")
	assert.Contains(t, out, "enterprise")
	assert.NotContains(t, out, "custom")
}

func TestSnapshotCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "members.yaml")
	store := snapshot.NewFileStore(path)
	require.NoError(t, store.Save(context.Background(), []models.MemberRecord{
		{ID: "m-1", Config: "cfg", Health: models.HealthHealthy, CreatedAt: time.Now()},
	}))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("snapshot:\n  type: file\n  path: "+path+"\n"), 0o600))

	out, err := execute(t, "snapshot", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "store: file, members: 1")
	assert.Contains(t, out, "id: m-1")
	assert.NotContains(t, out, "cfg", "identity configs are not printed")
}

func TestMigrateRequiresDatabase(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("app:\n  name: test\n"), 0o600))

	_, err := execute(t, "migrate", "--config", cfgPath)
	assert.ErrorContains(t, err, "database.enabled is false")
}
