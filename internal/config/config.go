package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models stateline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Key  string `yaml:"key"`
		Name string `yaml:"name"`
		Lead string `yaml:"lead"`
	} `yaml:"project"`
	Org        string      `yaml:"org"`
	IssueTypes []IssueType `yaml:"issue_types"`
	Directory  struct {
		Users map[string]DirectoryUser `yaml:"users"`
	} `yaml:"directory"`
}

type IssueType struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type DirectoryUser struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sl init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Key == "" {
		return fmt.Errorf("config.project.key is required")
	}
	if len(c.IssueTypes) == 0 {
		return fmt.Errorf("config.issue_types is required")
	}
	seen := map[string]bool{}
	for _, t := range c.IssueTypes {
		if t.ID == "" {
			return fmt.Errorf("config.issue_types contains empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("issue type %s defined twice", t.ID)
		}
		seen[t.ID] = true
	}
	for email, u := range c.Directory.Users {
		if email == "" {
			return fmt.Errorf("config.directory.users contains empty email")
		}
		if u.Role == "" {
			return fmt.Errorf("user %s has no role", email)
		}
	}
	if c.Project.Lead != "" {
		if _, ok := c.Directory.Users[c.Project.Lead]; !ok {
			return fmt.Errorf("project lead %s not in directory", c.Project.Lead)
		}
	}
	return nil
}

// IssueTypeName resolves a type id to its display name.
func (c *Config) IssueTypeName(id string) string {
	for _, t := range c.IssueTypes {
		if t.ID == id {
			return t.Name
		}
	}
	return id
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stateline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID, projectKey string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectKey, projectKey)
}

// Default returns the default Config struct for a project.
func Default(projectID, projectKey string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(projectID, projectKey)), &cfg)
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

const defaultTemplate = `project:
  id: %s
  key: %s
  name: %s
  lead: local@stateline.dev

org: default-org

issue_types:
  - id: story
    name: Story
  - id: task
    name: Task
  - id: bug
    name: Bug

directory:
  users:
    local@stateline.dev:
      name: Local User
      role: admin
`
