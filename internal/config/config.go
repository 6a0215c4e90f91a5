package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultModel is used when no model is configured
const DefaultModel = "anthropic/claude-sonnet-4-20250514"

type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	TierRouter TierRouterConfig `yaml:"tierRouter"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Tools      ToolsConfig      `yaml:"tools"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Storage    StorageConfig    `yaml:"storage"`
	Bus        BusConfig        `yaml:"bus"`
	Log        LogConfig        `yaml:"log"`
	Update     UpdateConfig     `yaml:"update"`

	path string // file the config was loaded from
}

type AgentConfig struct {
	Model               string   `yaml:"model"`
	SystemPrompt        string   `yaml:"systemPrompt"`
	Workspace           string   `yaml:"workspace"`
	BotName             string   `yaml:"botName"`
	MaxIterations       int      `yaml:"maxIterations"`
	MaxTokens           int      `yaml:"maxTokens"`
	Temperature         float64  `yaml:"temperature"`
	HistoryWindow       int      `yaml:"historyWindow"`       // session entries kept in memory (default: 100)
	MaxSameTool         int      `yaml:"maxSameTool"`         // real executions of one tool per turn (default: 8)
	RepeatErrorLimit    int      `yaml:"repeatErrorLimit"`    // identical errors before a tool is blocked (default: 2)
	ToolResultMaxChars  int      `yaml:"toolResultMaxChars"`  // tool output kept in the transcript (default: 4000)
	FallbackModels      []string `yaml:"fallbackModels"`      // tried in order on transient provider errors
	FallbackMaxAttempts int      `yaml:"fallbackMaxAttempts"` // total provider attempts per call (default: 2)
	// Models under these prefixes skip the static tool-capability check
	DynamicGatewayPrefixes []string `yaml:"dynamicGatewayPrefixes"`
}

type TierRouterConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Tiers      TierModelsConfig `yaml:"tiers"`
	Rules      TierRulesConfig  `yaml:"rules"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

type TierModelsConfig struct {
	Light  string `yaml:"light"`
	Medium string `yaml:"medium"`
	Heavy  string `yaml:"heavy"`
}

type TierRulesConfig struct {
	ShortMessageMaxChars int      `yaml:"shortMessageMaxChars"`
	ShortMessageMaxWords int      `yaml:"shortMessageMaxWords"`
	MediumKeywords       []string `yaml:"mediumKeywords"`
	HeavyKeywords        []string `yaml:"heavyKeywords"`
}

// ClassifierConfig enables the LLM tier classifier in place of keyword rules
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"` // defaults to the light tier model
}

type ProviderConfig struct {
	APIKey       string            `yaml:"apiKey"`
	APIBase      string            `yaml:"apiBase"`
	ExtraHeaders map[string]string `yaml:"extraHeaders"`
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `yaml:"anthropic"`
	OpenAI     ProviderConfig `yaml:"openai"`
	OpenRouter ProviderConfig `yaml:"openrouter"`
	OpenCode   ProviderConfig `yaml:"opencode"`
	DeepSeek   ProviderConfig `yaml:"deepseek"`
	Gemini     ProviderConfig `yaml:"gemini"`
}

// Get returns the provider config by registry name
func (p *ProvidersConfig) Get(name string) (ProviderConfig, bool) {
	switch name {
	case "anthropic":
		return p.Anthropic, true
	case "openai":
		return p.OpenAI, true
	case "openrouter":
		return p.OpenRouter, true
	case "opencode":
		return p.OpenCode, true
	case "deepseek":
		return p.DeepSeek, true
	case "gemini":
		return p.Gemini, true
	}
	return ProviderConfig{}, false
}

// HasAnyKey reports whether at least one provider has credentials
func (p *ProvidersConfig) HasAnyKey() bool {
	for _, pc := range []ProviderConfig{p.Anthropic, p.OpenAI, p.OpenRouter, p.OpenCode, p.DeepSeek, p.Gemini} {
		if pc.APIKey != "" {
			return true
		}
	}
	return false
}

type ChannelsConfig struct {
	Telegram  TelegramConfig `yaml:"telegram"`
	Discord   DiscordConfig  `yaml:"discord"`
	Console   ConsoleConfig  `yaml:"console"`
	RateLimit int            `yaml:"rateLimit"` // inbound turns per sender per minute; 0 disables
}

type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	AllowFrom []string `yaml:"allowFrom"` // user ids or usernames; empty = allow all
	Proxy     string   `yaml:"proxy"`
}

type DiscordConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	AllowFrom []string `yaml:"allowFrom"` // user ids or usernames; empty = allow all
}

type ConsoleConfig struct {
	ChatID   string `yaml:"chatId"`
	SenderID string `yaml:"senderId"`
}

type ToolsConfig struct {
	Exec                ExecToolConfig   `yaml:"exec"`
	Web                 WebToolConfig    `yaml:"web"`
	Search              SearchToolConfig `yaml:"search"`
	Cron                CronToolConfig   `yaml:"cron"`
	RestrictToWorkspace bool             `yaml:"restrictToWorkspace"`
}

// ExecToolConfig holds exec tool security settings
type ExecToolConfig struct {
	Enabled         bool     `yaml:"enabled"`         // Enable exec tool (default: false for safety)
	AllowedCommands []string `yaml:"allowedCommands"` // Allowed command prefixes. Use ["bash"] for full access (dangerous patterns still blocked)
	TimeoutSeconds  int      `yaml:"timeoutSeconds"`  // Command timeout (default: 60)
}

// WebToolConfig configures the headless-browser page fetch tool
type WebToolConfig struct {
	Enabled        bool `yaml:"enabled"`  // requires Chrome/Chromium
	Headless       bool `yaml:"headless"` // default: true
	Stealth        bool `yaml:"stealth"`  // default: true
	TimeoutSeconds int  `yaml:"timeoutSeconds"`
	MaxChars       int  `yaml:"maxChars"` // page text returned to the model (default: 12000)
}

// SearchToolConfig configures the Tavily web search tool; it is registered
// when an API key is set
type SearchToolConfig struct {
	APIKey     string `yaml:"apiKey"`
	MaxResults int    `yaml:"maxResults"` // default: 5
}

type CronToolConfig struct {
	Enabled bool `yaml:"enabled"`
}

type HeartbeatConfig struct {
	Enabled          bool   `yaml:"enabled"`
	IntervalMinutes  int    `yaml:"intervalMinutes"`
	DeliverTo        string `yaml:"deliverTo"`        // "channel:chat_id", e.g. "telegram:123456"
	ActiveHoursStart string `yaml:"activeHoursStart"` // HH:MM
	ActiveHoursEnd   string `yaml:"activeHoursEnd"`   // HH:MM
	SuppressEmpty    bool   `yaml:"suppressEmpty"`    // drop HEARTBEAT_OK replies
}

type StorageConfig struct {
	Path string `yaml:"path"` // sqlite file; defaults to <workspace>/yacb.db
}

type BusConfig struct {
	QueueSize int `yaml:"queueSize"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// UpdateConfig configures the `!update now` control command
type UpdateConfig struct {
	RepoDir string `yaml:"repoDir"` // git checkout to pull; empty disables updates
}

func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:                  DefaultModel,
			SystemPrompt:           "You are a helpful personal assistant.",
			Workspace:              filepath.Join(configDir(), "workspace"),
			BotName:                "yacb",
			MaxIterations:          20,
			MaxTokens:              8192,
			Temperature:            0.7,
			HistoryWindow:          100,
			MaxSameTool:            8,
			RepeatErrorLimit:       2,
			ToolResultMaxChars:     4000,
			FallbackMaxAttempts:    2,
			DynamicGatewayPrefixes: []string{"openrouter/", "opencode/"},
		},
		TierRouter: TierRouterConfig{
			Enabled: true,
			Rules: TierRulesConfig{
				ShortMessageMaxChars: 80,
				ShortMessageMaxWords: 12,
				MediumKeywords:       []string{"search", "read", "explain", "remind", "cron", "file", "tool"},
				HeavyKeywords:        []string{"code", "debug", "refactor", "implement", "architecture", "optimize"},
			},
		},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{
				ChatID:   "local",
				SenderID: "console",
			},
		},
		Tools: ToolsConfig{
			Exec: ExecToolConfig{
				Enabled:         false, // Disabled by default for security
				AllowedCommands: []string{},
				TimeoutSeconds:  60,
			},
			Web: WebToolConfig{
				Enabled:        false, // Disabled by default (requires Chrome)
				Headless:       true,
				Stealth:        true,
				TimeoutSeconds: 30,
				MaxChars:       12000,
			},
			Search: SearchToolConfig{
				MaxResults: 5,
			},
			Cron: CronToolConfig{
				Enabled: true,
			},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:          false,
			IntervalMinutes:  240,
			ActiveHoursStart: "08:00",
			ActiveHoursEnd:   "22:00",
			SuppressEmpty:    true,
		},
		Bus: BusConfig{
			QueueSize: 200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".yacb")
}

// DefaultPath returns ~/.yacb/config.yaml
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Load reads the config at path (DefaultPath when empty) and applies
// environment overrides. A missing file yields an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config not found: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.path = path
	cfg.ApplyEnv()

	return cfg, nil
}

// Path returns the file this config was loaded from, if any
func (c *Config) Path() string {
	return c.path
}

// ApplyEnv overrides secrets from the environment when set
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey},
		{"OPENAI_API_KEY", &c.Providers.OpenAI.APIKey},
		{"OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey},
		{"OPENCODE_API_KEY", &c.Providers.OpenCode.APIKey},
		{"DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey},
		{"GEMINI_API_KEY", &c.Providers.Gemini.APIKey},
		{"TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token},
		{"DISCORD_BOT_TOKEN", &c.Channels.Discord.Token},
		{"TAVILY_API_KEY", &c.Tools.Search.APIKey},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}
}

// WorkspacePath returns the agent workspace with ~ expanded
func (c *Config) WorkspacePath() string {
	return expandHome(c.Agent.Workspace)
}

// DBPath returns the sqlite file location
func (c *Config) DBPath() string {
	if c.Storage.Path != "" {
		return expandHome(c.Storage.Path)
	}
	return filepath.Join(c.WorkspacePath(), "yacb.db")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

// ValidationResult holds the result of config validation
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// Validate checks the configuration for required fields and common issues
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	if !c.Providers.HasAnyKey() {
		result.Errors = append(result.Errors, "Provider authentication required: set providers.<name>.apiKey for at least one provider")
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		result.Errors = append(result.Errors, "Telegram enabled but token not set: set channels.telegram.token")
	}

	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		result.Errors = append(result.Errors, "Discord enabled but token not set: set channels.discord.token")
	}

	if c.Agent.Model == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("No model specified, using default (%s)", DefaultModel))
	} else if !strings.Contains(c.Agent.Model, "/") {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Model '%s' has no provider prefix, expected 'provider/model-name'", c.Agent.Model))
	}

	if c.Agent.MaxIterations < 1 {
		result.Errors = append(result.Errors, "agent.maxIterations must be at least 1")
	}

	if n := c.Agent.FallbackMaxAttempts; n < 1 || n > 5 {
		result.Errors = append(result.Errors, "agent.fallbackMaxAttempts must be between 1 and 5")
	}

	if c.Channels.RateLimit < 0 {
		result.Errors = append(result.Errors, "channels.rateLimit must be 0 (disabled) or positive")
	}

	rules := c.TierRouter.Rules
	if rules.ShortMessageMaxChars < 10 || rules.ShortMessageMaxChars > 500 {
		result.Errors = append(result.Errors, "tierRouter.rules.shortMessageMaxChars must be between 10 and 500")
	}
	if rules.ShortMessageMaxWords < 1 || rules.ShortMessageMaxWords > 200 {
		result.Errors = append(result.Errors, "tierRouter.rules.shortMessageMaxWords must be between 1 and 200")
	}

	if c.Agent.Workspace != "" {
		if _, err := os.Stat(c.WorkspacePath()); os.IsNotExist(err) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Workspace directory does not exist: %s (run 'yacb onboard')", c.WorkspacePath()))
		}
	}

	if c.Tools.Web.Enabled {
		result.Warnings = append(result.Warnings, "Web fetch tool enabled - requires Chrome/Chromium installed")
	}

	if c.Heartbeat.Enabled {
		if c.Heartbeat.IntervalMinutes < 5 {
			result.Warnings = append(result.Warnings, "Heartbeat interval < 5 minutes, may cause excessive API calls")
		}
		if !strings.Contains(c.Heartbeat.DeliverTo, ":") {
			result.Warnings = append(result.Warnings, "Heartbeat enabled without heartbeat.deliverTo (channel:chat_id), responses will only be logged")
		}
	}

	return result
}

// Save writes cfg to path (DefaultPath when empty) and returns the path written
func Save(cfg *Config, path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}

	return path, nil
}
