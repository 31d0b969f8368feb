// Package app wires settings, logging, storage and the engine together for
// the vt commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"voicetrack/internal/config"
	"voicetrack/internal/db"
	"voicetrack/internal/engine"
	"voicetrack/internal/logging"
	"voicetrack/internal/migrate"
	"voicetrack/internal/repo"
)

// Options are the command-line overrides applied on top of the settings file.
type Options struct {
	Workspace    string
	SettingsPath string
	LogLevel     string
	LogFormat    string
	LogOutput    io.Writer
}

// Runtime is an opened workspace: settings, logger, migrated database and
// engine.
type Runtime struct {
	Settings     *config.Settings
	SettingsRead bool
	Logger       *slog.Logger
	DB           *sql.DB
	Engine       engine.Engine
}

// Open loads settings, builds the logger and opens the migrated workspace
// database.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	settings, read, err := LoadSettings(opts)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: opts.LogOutput,
	})
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: settings.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(settings.Workspace), err)
	}
	if applied > 0 {
		logger.Debug("applied migrations", slog.Int("count", applied), slog.String("db", db.Path(settings.Workspace)))
	}
	e := engine.New(conn, engine.Options{Logger: logger, CacheSize: settings.Cache.Size})
	return &Runtime{
		Settings:     settings,
		SettingsRead: read,
		Logger:       logger,
		DB:           conn,
		Engine:       e,
	}, nil
}

// LoadSettings reads the TOML settings and applies the overrides in opts.
// Without an explicit path the file is looked up in the workspace.
func LoadSettings(opts Options) (*config.Settings, bool, error) {
	path := strings.TrimSpace(opts.SettingsPath)
	if path == "" {
		path = config.SettingsPath(opts.Workspace)
	}
	settings, read, err := config.LoadSettings(path)
	if err != nil {
		return nil, read, err
	}
	if ws := strings.TrimSpace(opts.Workspace); ws != "" {
		settings.Workspace = ws
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" {
		settings.Logging.Level = lvl
	}
	if f := strings.TrimSpace(opts.LogFormat); f != "" {
		settings.Logging.Format = f
	}
	if err := settings.Validate(); err != nil {
		return nil, read, err
	}
	return settings, read, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// ResolveProject returns the override when set, otherwise the only project
// in the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("no project in workspace; run 'vt project create' first")
		}
		return "", err
	}
	return p.ID, nil
}

// WorkflowConfig returns the workflow template for new projects: the file
// at path when given, else voicetrack.yml in the workspace, else the
// built-in template.
func WorkflowConfig(workspace, path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}
