package config

import (
	"fmt"
	"time"
)

// Config is the full diagd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Executor ExecutorConfig `koanf:"executor"`
	LLM      LLMConfig      `koanf:"llm"`
	Scada    ScadaConfig    `koanf:"scada"`
	Manuals  ManualsConfig  `koanf:"manuals"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// WorkflowConfig bounds the diagnostic loop.
type WorkflowConfig struct {
	IterationCap          int      `koanf:"iteration_cap"`
	DecisionTimeout       Duration `koanf:"decision_timeout"`
	DecisionTimeoutPolicy string   `koanf:"decision_timeout_policy"`
	ContextTurns          int      `koanf:"context_turns"`
	Retention             int      `koanf:"retention"`
}

// ExecutorConfig bounds individual tool calls.
type ExecutorConfig struct {
	CallTimeout Duration `koanf:"call_timeout"`
	Retries     int      `koanf:"retries"`
}

// LLMConfig selects and configures the planning capability.
// Provider "rule" runs the deterministic planner and needs no endpoint.
type LLMConfig struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	Model    string `koanf:"model"`
}

// ScadaConfig locates the sensor history database.
type ScadaConfig struct {
	DBPath   string `koanf:"db_path"`
	Seed     bool   `koanf:"seed"`
	SeedDays int    `koanf:"seed_days"`
}

// ManualsConfig locates equipment manuals and their search index.
type ManualsConfig struct {
	Dir        string `koanf:"dir"`
	StorePath  string `koanf:"store_path"`
	Collection string `koanf:"collection"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8642
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Workflow.IterationCap == 0 {
		cfg.Workflow.IterationCap = 3
	}
	if cfg.Workflow.DecisionTimeout == 0 {
		cfg.Workflow.DecisionTimeout = Duration(5 * time.Minute)
	}
	if cfg.Workflow.DecisionTimeoutPolicy == "" {
		cfg.Workflow.DecisionTimeoutPolicy = "fail"
	}
	if cfg.Workflow.ContextTurns == 0 {
		cfg.Workflow.ContextTurns = 3
	}
	if cfg.Workflow.Retention == 0 {
		cfg.Workflow.Retention = 10
	}

	if cfg.Executor.CallTimeout == 0 {
		cfg.Executor.CallTimeout = Duration(30 * time.Second)
	}
	if cfg.Executor.Retries == 0 {
		cfg.Executor.Retries = 2
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "rule"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}

	if cfg.Scada.DBPath == "" {
		cfg.Scada.DBPath = "scada_logs.db"
	}
	if cfg.Scada.SeedDays == 0 {
		cfg.Scada.SeedDays = 30
	}

	if cfg.Manuals.Dir == "" {
		cfg.Manuals.Dir = "manuals"
	}
	if cfg.Manuals.Collection == "" {
		cfg.Manuals.Collection = "equipment_manuals"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Workflow.IterationCap < 1 {
		return fmt.Errorf("workflow.iteration_cap must be at least 1, got %d", c.Workflow.IterationCap)
	}
	switch c.Workflow.DecisionTimeoutPolicy {
	case "fail", "continue":
	default:
		return fmt.Errorf("workflow.decision_timeout_policy must be %q or %q, got %q",
			"fail", "continue", c.Workflow.DecisionTimeoutPolicy)
	}
	if c.Executor.Retries < 1 {
		return fmt.Errorf("executor.retries must be at least 1, got %d", c.Executor.Retries)
	}
	switch c.LLM.Provider {
	case "rule":
	case "openai":
		if c.LLM.BaseURL == "" && !c.LLM.APIKey.IsSet() {
			return fmt.Errorf("llm.provider %q requires llm.base_url or llm.api_key", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", "rule", "openai", c.LLM.Provider)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be %q or %q, got %q", "json", "console", c.Logging.Format)
	}
	return nil
}
