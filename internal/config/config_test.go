package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicetrack/internal/config"
)

func TestDefaultWorkflow(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Stages, 4)
	assert.Equal(t, "stage1", cfg.Stages[0].ID)
	require.Len(t, cfg.Stages[0].Tasks, 3)
	assert.Equal(t, "Auditioning Brief", cfg.Stages[0].Tasks[1].Title)
	assert.False(t, cfg.Gating.AllowOverride)
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"no stages":    "stages: []\n",
		"missing id":   "stages:\n  - title: A\n",
		"duplicate":    "stages:\n  - id: a\n    title: A\n  - id: a\n    title: B\n",
		"task title":   "stages:\n  - id: a\n    title: A\n    tasks:\n      - id: t\n",
		"dup task":     "stages:\n  - id: a\n    title: A\n    tasks:\n      - id: t\n        title: x\n      - id: t\n        title: y\n",
		"bad hook url": "stages:\n  - id: a\n    title: A\nwebhooks:\n  - url: ftp://x\n",
		"bad yaml":     "stages: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestWebhookEnabledDefault(t *testing.T) {
	cfg, err := config.FromYAML([]byte("stages:\n  - id: a\n    title: A\nwebhooks:\n  - url: http://localhost/x\n  - url: http://localhost/y\n    enabled: false\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Webhooks[0].IsEnabled())
	assert.False(t, cfg.Webhooks[1].IsEnabled())
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, found, err := config.LoadSettings(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, config.DefaultSettings().Server.Addr, s.Server.Addr)
	assert.Equal(t, 128, s.Cache.Size)
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicetrack.toml")
	body := strings.Join([]string{
		`workspace = "/srv/vt"`,
		`[server]`,
		`addr = ":9000"`,
		`base_path = "api/"`,
		`[logging]`,
		`level = "DEBUG"`,
		`format = "json"`,
		`[cache]`,
		`size = 0`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	s, found, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/srv/vt", s.Workspace)
	assert.Equal(t, ":9000", s.Server.Addr)
	assert.Equal(t, "/api", s.Server.BasePath)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, 0, s.Cache.Size)
	assert.Equal(t, 2, s.Webhooks.PollIntervalSeconds)
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicetrack.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nformat = \"xml\"\n"), 0o644))
	_, _, err := config.LoadSettings(path)
	assert.Error(t, err)
}
