package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicetrack/internal/config"
	"voicetrack/internal/engine"
)

func TestOpenUsesWorkspaceSettings(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.SettingsPath(ws), []byte("[cache]\nsize = 4\n\n[logging]\nlevel = \"debug\"\n"), 0o644))

	rt, err := Open(context.Background(), Options{Workspace: ws, LogOutput: io.Discard})
	require.NoError(t, err)
	defer rt.Close()

	assert.True(t, rt.SettingsRead)
	assert.Equal(t, 4, rt.Settings.Cache.Size)
	assert.Equal(t, "debug", rt.Settings.Logging.Level)
	assert.Equal(t, ws, rt.Settings.Workspace)
	assert.FileExists(t, filepath.Join(ws, ".voicetrack", "voicetrack.db"))
}

func TestLoadSettingsOverrides(t *testing.T) {
	ws := t.TempDir()
	settings, read, err := LoadSettings(Options{Workspace: ws, LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	assert.False(t, read)
	assert.Equal(t, "warn", settings.Logging.Level)
	assert.Equal(t, "json", settings.Logging.Format)

	_, _, err = LoadSettings(Options{Workspace: ws, LogFormat: "xml"})
	assert.Error(t, err)
}

func TestResolveProject(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), Options{Workspace: ws, LogOutput: io.Discard})
	require.NoError(t, err)
	defer rt.Close()
	ctx := context.Background()

	_, err = ResolveProject(ctx, rt.Engine.Repo, "")
	assert.ErrorContains(t, err, "vt project create")

	id, err := ResolveProject(ctx, rt.Engine.Repo, " explicit ")
	require.NoError(t, err)
	assert.Equal(t, "explicit", id)

	_, err = rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{ID: "spot-1", Name: "Spot"})
	require.NoError(t, err)
	id, err = ResolveProject(ctx, rt.Engine.Repo, "")
	require.NoError(t, err)
	assert.Equal(t, "spot-1", id)

	_, err = rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{ID: "spot-2", Name: "Spot two"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, rt.Engine.Repo, "")
	assert.ErrorContains(t, err, "multiple projects")
}

func TestWorkflowConfig(t *testing.T) {
	ws := t.TempDir()
	cfg, err := WorkflowConfig(ws, "")
	require.NoError(t, err)
	assert.Len(t, cfg.Stages, 4)

	custom := "stages:\n  - id: intake\n    title: Intake\n    tasks:\n      - title: Brief\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(custom), 0o644))
	cfg, err = WorkflowConfig(ws, "")
	require.NoError(t, err)
	require.Len(t, cfg.Stages, 1)
	assert.Equal(t, "intake", cfg.Stages[0].ID)

	_, err = WorkflowConfig(ws, filepath.Join(ws, "missing.yml"))
	assert.Error(t, err)
}
