package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models voicetrack.yml, the workflow template a project is seeded
// from. It is stored per project as JSON once the project exists.
type Config struct {
	Project struct {
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
	} `yaml:"project" json:"project"`
	Gating struct {
		AllowOverride bool `yaml:"allow_override" json:"allow_override"`
	} `yaml:"gating" json:"gating"`
	Stages   []StageTemplate `yaml:"stages" json:"stages"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// StageTemplate describes one stage. Order follows position in the list.
type StageTemplate struct {
	ID          string         `yaml:"id" json:"id"`
	Title       string         `yaml:"title" json:"title"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Tasks       []TaskTemplate `yaml:"tasks" json:"tasks"`
}

type TaskTemplate struct {
	ID          string `yaml:"id,omitempty" json:"id,omitempty"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with vt config show --default > %s", path, path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("config.stages must define at least one stage")
	}
	stageIDs := map[string]bool{}
	for i, st := range c.Stages {
		if strings.TrimSpace(st.ID) == "" {
			return fmt.Errorf("config.stages[%d].id is required", i)
		}
		if stageIDs[st.ID] {
			return fmt.Errorf("config.stages[%d].id %s is duplicated", i, st.ID)
		}
		stageIDs[st.ID] = true
		if strings.TrimSpace(st.Title) == "" {
			return fmt.Errorf("stage %s title is required", st.ID)
		}
		taskIDs := map[string]bool{}
		for j, task := range st.Tasks {
			if strings.TrimSpace(task.Title) == "" {
				return fmt.Errorf("stage %s task[%d] title is required", st.ID, j)
			}
			if task.ID == "" {
				continue
			}
			if taskIDs[task.ID] {
				return fmt.Errorf("stage %s task id %s is duplicated", st.ID, task.ID)
			}
			taskIDs[task.ID] = true
		}
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an absolute http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event filter", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "voicetrack.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in four stage workflow.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `gating:
  allow_override: false

stages:
  - id: stage1
    title: Original Video Campaign
    description: Upload the original video and brief the voice auditions
    tasks:
      - id: task1
        title: Original Video Campaign
        description: Upload and manage the original video content
      - id: task2
        title: Auditioning Brief
        description: Create and review the auditioning requirements
      - id: task3
        title: Auditioning Voices
        description: Listen to and manage voice auditions

  - id: stage2
    title: Script and Timestamps
    description: Review the script and produce AI powered versions
    tasks:
      - id: task1
        title: Script Review
        description: Review the script and its timestamps
      - id: task2
        title: AI Powered Versions
        description: Review the generated voice versions

  - id: stage3
    title: Voice Selection and Feedback
    description: Collect feedback and iterate on the chosen voices
    tasks:
      - id: task1
        title: Feedback Session
        description: Gather feedback on the selected voices
      - id: task2
        title: Iterated Voices
        description: Review the voices after feedback

  - id: stage4
    title: Final Delivery
    description: Deliver the final asset
    tasks:
      - id: task1
        title: Final Deliverable
        description: Approve the final deliverable
`
