package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level deskhive configuration.
type Config struct {
	Core       CoreConfig                `json:"core"`
	Routing    RoutingConfig             `json:"routing"`
	Schedule   *ScheduleConfig           `json:"schedule,omitempty"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Connectors ConnectorConfig           `json:"connectors"`
	Ticketing  TicketingConfig           `json:"ticketing"`
	Knowledge  KnowledgeConfig           `json:"knowledge"`
	Expert     ExpertConfig              `json:"expert"`
	Roster     RosterConfig              `json:"roster"`
}

// CoreConfig holds daemon-level settings.
type CoreConfig struct {
	DataDir             string `json:"data_dir"`
	DebounceSeconds     int    `json:"debounce_seconds,omitempty"`       // default 15
	PreTicketTTLMinutes int    `json:"pre_ticket_ttl_minutes,omitempty"` // default 15
	ReconcileSchedule   string `json:"reconcile_schedule,omitempty"`     // default "@every 1m"
	ReportSchedule      string `json:"report_schedule,omitempty"`        // default "0 21 * * *"
}

// RoutingConfig holds the routing policy knobs.
type RoutingConfig struct {
	FAQThreshold       float64  `json:"faq_threshold,omitempty"`
	OverrideThreshold  float64  `json:"override_threshold,omitempty"`
	MixedThreshold     float64  `json:"mixed_threshold,omitempty"`
	GateOrder          []string `json:"gate_order,omitempty"` // "off_tariff", "completeness"
	StaffUsernames     []string `json:"staff_usernames,omitempty"`
	SalesResponsible   string   `json:"sales_responsible,omitempty"`
	DefaultResponsible string   `json:"default_responsible"`
	HistoryLimit       int      `json:"history_limit,omitempty"`
}

// ScheduleConfig is the weekday processing window; absent means always-on
// wording for ticket notices.
type ScheduleConfig struct {
	Start    string `json:"start"` // "09:00"
	End      string `json:"end"`   // "18:00"
	Timezone string `json:"timezone"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// ConnectorConfig holds settings for messaging connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	AppToken string `json:"app_token"`
	BotToken string `json:"bot_token"`
}

// TicketingConfig holds the external ticketing webhook settings.
type TicketingConfig struct {
	BaseURL          string   `json:"base_url"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty"` // default 45
	TerminalStatuses []string `json:"terminal_statuses,omitempty"`
}

// KnowledgeConfig points at the knowledge-base directory.
type KnowledgeConfig struct {
	Dir string `json:"dir,omitempty"`
}

// ExpertConfig holds the expert-answer API settings.
type ExpertConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// RosterConfig holds the chat-responsibility mapping file settings.
type RosterConfig struct {
	File            string `json:"file,omitempty"`
	RefreshSchedule string `json:"refresh_schedule,omitempty"` // default "@every 1h"
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a minimal config from environment variables with the
// DESKHIVE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Core: CoreConfig{
			DataDir: getenv("DESKHIVE_DATA_DIR", "/data"),
		},
		Routing: RoutingConfig{
			DefaultResponsible: os.Getenv("DESKHIVE_DEFAULT_RESPONSIBLE"),
			SalesResponsible:   os.Getenv("DESKHIVE_SALES_RESPONSIBLE"),
			StaffUsernames:     splitList(os.Getenv("DESKHIVE_STAFF_USERNAMES")),
		},
		Providers: make(map[string]ProviderConfig),
		Ticketing: TicketingConfig{
			BaseURL: os.Getenv("DESKHIVE_TICKETING_URL"),
		},
		Knowledge: KnowledgeConfig{Dir: os.Getenv("DESKHIVE_KNOWLEDGE_DIR")},
		Expert: ExpertConfig{
			APIKey: os.Getenv("DESKHIVE_EXPERT_API_KEY"),
		},
		Roster: RosterConfig{File: os.Getenv("DESKHIVE_ROSTER_FILE")},
	}

	if apiKey := os.Getenv("DESKHIVE_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("DESKHIVE_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if apiKey := os.Getenv("DESKHIVE_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("DESKHIVE_OPENAI_BASE_URL"),
			Model:   getenv("DESKHIVE_MODEL", "gpt-4o"),
		}
	}

	if token := os.Getenv("DESKHIVE_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("DESKHIVE_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: DESKHIVE_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}
	if appToken := os.Getenv("DESKHIVE_SLACK_APP_TOKEN"); appToken != "" {
		cfg.Connectors.Slack = &SlackConfig{
			AppToken: appToken,
			BotToken: os.Getenv("DESKHIVE_SLACK_BOT_TOKEN"),
		}
	}

	cfg.Core.DebounceSeconds = getenvInt("DESKHIVE_DEBOUNCE_SECONDS", 0)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Core.DebounceSeconds == 0 {
		c.Core.DebounceSeconds = 15
	}
	if c.Core.PreTicketTTLMinutes == 0 {
		c.Core.PreTicketTTLMinutes = 15
	}
	if c.Core.ReconcileSchedule == "" {
		c.Core.ReconcileSchedule = "@every 1m"
	}
	if c.Core.ReportSchedule == "" {
		c.Core.ReportSchedule = "0 21 * * *"
	}
	if c.Ticketing.TimeoutSeconds == 0 {
		c.Ticketing.TimeoutSeconds = 45
	}
	if len(c.Ticketing.TerminalStatuses) == 0 {
		c.Ticketing.TerminalStatuses = []string{"5"}
	}
	if c.Roster.RefreshSchedule == "" {
		c.Roster.RefreshSchedule = "@every 1h"
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Core.DataDir == "" {
		errs = append(errs, "core.data_dir is required")
	}
	if c.Routing.DefaultResponsible == "" {
		errs = append(errs, "routing.default_responsible is required")
	}
	for _, g := range c.Routing.GateOrder {
		if g != "off_tariff" && g != "completeness" {
			errs = append(errs, fmt.Sprintf("routing.gate_order has unknown gate %q", g))
		}
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
	}

	if c.Ticketing.BaseURL == "" {
		errs = append(errs, "ticketing.base_url is required")
	}

	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if c.Connectors.Slack != nil && (c.Connectors.Slack.AppToken == "" || c.Connectors.Slack.BotToken == "") {
		errs = append(errs, "connectors.slack needs both app_token and bot_token")
	}
	if c.Connectors.Telegram == nil && c.Connectors.Slack == nil {
		errs = append(errs, "at least one connector is required")
	}

	if s := c.Schedule; s != nil && (s.Start == "" || s.End == "" || s.Timezone == "") {
		errs = append(errs, "schedule needs start, end and timezone")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
