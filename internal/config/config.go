package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/scheduler"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Lark       LarkConfig       `mapstructure:"lark"`

	Teams     []TeamConfig     `mapstructure:"teams"`
	Agents    []AgentConfig    `mapstructure:"agents"`
	Clients   []ClientConfig   `mapstructure:"clients"`
	Contracts []ContractConfig `mapstructure:"contracts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Mode         string        `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// SchedulerConfig holds the tick loops configuration
type SchedulerConfig struct {
	Enabled         bool                   `mapstructure:"enabled"`
	FastInterval    time.Duration          `mapstructure:"fast_interval"`
	SlowInterval    time.Duration          `mapstructure:"slow_interval"`
	TickTimeout     time.Duration          `mapstructure:"tick_timeout"`
	BatchSize       int                    `mapstructure:"batch_size"`
	AutoAssign      bool                   `mapstructure:"auto_assign"`
	AutoTransitions []AutoTransitionConfig `mapstructure:"auto_transitions"`
}

// AutoTransitionConfig moves items after they waited in a status
type AutoTransitionConfig struct {
	From  string        `mapstructure:"from"`
	To    string        `mapstructure:"to"`
	After time.Duration `mapstructure:"after"`
}

// EscalationConfig holds alert thresholds
type EscalationConfig struct {
	DefaultAlertThreshold float64       `mapstructure:"default_alert_threshold"`
	Cooldown              time.Duration `mapstructure:"cooldown"`
	CriticalOverdueDays   int           `mapstructure:"critical_overdue_days"`
}

// LarkConfig holds the optional Lark IM notification settings
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// TeamConfig seeds a team
type TeamConfig struct {
	ID             string   `mapstructure:"id"`
	Name           string   `mapstructure:"name"`
	LeaderID       string   `mapstructure:"leader_id"`
	MaxLoad        int      `mapstructure:"max_load"`
	OverflowPolicy string   `mapstructure:"overflow_policy"`
	AlertThreshold float64  `mapstructure:"alert_threshold"`
	Alternates     []string `mapstructure:"alternates"`
}

// AgentConfig seeds a staff member
type AgentConfig struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	Role      string `mapstructure:"role"`
	TeamID    string `mapstructure:"team_id"`
	Capacity  int    `mapstructure:"capacity"`
	Active    *bool  `mapstructure:"active"`
	ContactID string `mapstructure:"contact_id"`
}

// ClientConfig seeds a client
type ClientConfig struct {
	ID               string `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	AccountManagerID string `mapstructure:"account_manager_id"`
	SLADays          int    `mapstructure:"sla_days"`
}

// ContractConfig seeds a client contract
type ContractConfig struct {
	ID       string `mapstructure:"id"`
	ClientID string `mapstructure:"client_id"`
	SLADays  int    `mapstructure:"sla_days"`
	Active   *bool  `mapstructure:"active"`
}

// EnvPrefix prefixes environment overrides, e.g. BORDEREAU_SERVER_PORT
const EnvPrefix = "BORDEREAU"

// Load reads the optional .env file, then the YAML file at configPath (when
// given), then environment overrides, and validates the result.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := gotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file: %w", err)
			}
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.path", "data/bordereau.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.fast_interval", 30*time.Second)
	v.SetDefault("scheduler.slow_interval", time.Hour)
	v.SetDefault("scheduler.tick_timeout", 20*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.auto_assign", false)

	// Escalation defaults
	v.SetDefault("escalation.default_alert_threshold", 90.0)
	v.SetDefault("escalation.cooldown", 24*time.Hour)
	v.SetDefault("escalation.critical_overdue_days", 10)

	// Lark defaults
	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.receive_id_type", "open_id")
}

// bindEnvVars binds credentials to their conventional variable names
func bindEnvVars(v *viper.Viper) error {
	for key, env := range map[string]string{
		"lark.app_id":     "LARK_APP_ID",
		"lark.app_secret": "LARK_APP_SECRET",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		add("database.path is required")
	}

	s := c.Scheduler
	if s.FastInterval <= 0 || s.SlowInterval <= 0 {
		add("scheduler intervals must be positive")
	}
	if s.TickTimeout < 0 {
		add("scheduler.tick_timeout must not be negative")
	}
	if s.BatchSize <= 0 {
		add("scheduler.batch_size must be positive")
	}
	table := domainwf.DefaultTable()
	for i, rule := range s.AutoTransitions {
		from, errFrom := domainwf.ParseStatus(rule.From)
		to, errTo := domainwf.ParseStatus(rule.To)
		switch {
		case errFrom != nil || errTo != nil:
			add("scheduler.auto_transitions[%d]: unknown status %q -> %q", i, rule.From, rule.To)
		case !table.Has(from, to):
			add("scheduler.auto_transitions[%d]: %s -> %s is not a transition", i, from, to)
		case rule.After < 0:
			add("scheduler.auto_transitions[%d]: after must not be negative", i)
		default:
			rules := scheduler.Config{Rules: []scheduler.Rule{{From: from, To: to, After: rule.After}}}
			if err := rules.Validate(table); err != nil {
				add("scheduler.auto_transitions[%d]: %v", i, err)
			}
		}
	}

	e := c.Escalation
	if e.DefaultAlertThreshold <= 0 {
		add("escalation.default_alert_threshold must be positive")
	}
	if e.Cooldown < 0 {
		add("escalation.cooldown must not be negative")
	}
	if e.CriticalOverdueDays <= 0 {
		add("escalation.critical_overdue_days must be positive")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			add("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			add("lark.app_secret is required when lark is enabled")
		}
	}

	errs = append(errs, c.validateRoster()...)
	return errors.Join(errs...)
}

func (c *Config) validateRoster() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	teams := make(map[string]bool, len(c.Teams))
	for i, t := range c.Teams {
		if t.ID == "" {
			add("teams[%d].id is required", i)
			continue
		}
		if teams[t.ID] {
			add("teams[%d]: duplicate id %s", i, t.ID)
		}
		teams[t.ID] = true
		if t.MaxLoad < 0 {
			add("teams[%d].max_load must not be negative", i)
		}
		if _, err := entity.ParseOverflowPolicy(t.OverflowPolicy); err != nil {
			add("teams[%d]: %w", i, err)
		}
	}
	for i, t := range c.Teams {
		for _, alt := range t.Alternates {
			if !teams[alt] || alt == t.ID {
				add("teams[%d]: invalid alternate %q", i, alt)
			}
		}
	}

	for i, a := range c.Agents {
		if a.ID == "" {
			add("agents[%d].id is required", i)
		}
		if !domainwf.Role(a.Role).IsValid() {
			add("agents[%d]: unknown role %q", i, a.Role)
		}
		if a.TeamID != "" && !teams[a.TeamID] {
			add("agents[%d]: unknown team %q", i, a.TeamID)
		}
		if a.Capacity < 0 {
			add("agents[%d].capacity must not be negative", i)
		}
	}

	clients := make(map[string]bool, len(c.Clients))
	for i, cl := range c.Clients {
		if cl.ID == "" {
			add("clients[%d].id is required", i)
		}
		if cl.SLADays <= 0 {
			add("clients[%d].sla_days must be positive", i)
		}
		clients[cl.ID] = true
	}
	for i, ct := range c.Contracts {
		if ct.ID == "" {
			add("contracts[%d].id is required", i)
		}
		if !clients[ct.ClientID] {
			add("contracts[%d]: unknown client %q", i, ct.ClientID)
		}
		if ct.SLADays <= 0 {
			add("contracts[%d].sla_days must be positive", i)
		}
	}
	return errs
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
