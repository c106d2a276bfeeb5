package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/schemantics/agentflow/pkg/agent"
	"github.com/schemantics/agentflow/pkg/service"
)

// Config is the full engine configuration: orchestration tunables, the
// agent command table populating the registry, and the outer surfaces.
type Config struct {
	MaxConcurrentSteps int                 `mapstructure:"max_concurrent_steps"`
	DefaultTimeoutSecs int                 `mapstructure:"default_timeout"`
	RetryDelaySecs     []int               `mapstructure:"retry_delays"`
	HTTPPort           string              `mapstructure:"http_port"`
	DatabaseURL        string              `mapstructure:"database_url"`
	Agents             map[string][]string `mapstructure:"agents"` // agentType -> argv
}

// BuildRegistry constructs the agent registry from the configured command
// table. The registry is read-only once workflows start executing.
func (c Config) BuildRegistry() (*agent.Registry, error) {
	registry := agent.NewRegistry()
	for agentType, command := range c.Agents {
		a, err := agent.NewSubprocessAgent(command...)
		if err != nil {
			return nil, errors.Wrapf(err, "agent '%s'", agentType)
		}
		if err := registry.Register(agentType, a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Load reads agentflow.{yaml,json} from the given directory (or the working
// directory when empty), applying AGENTFLOW_* environment overrides and the
// engine defaults for anything unset.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("agentflow")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("AGENTFLOW")
	v.AutomaticEnv()

	v.SetDefault("max_concurrent_steps", 5)
	v.SetDefault("default_timeout", 1800)
	v.SetDefault("retry_delays", []int{30, 120, 300})
	v.SetDefault("http_port", "8080")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env carry the config.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}
	return cfg, nil
}

// ServiceConfig translates the file/env representation into the engine's
// runtime settings.
func (c Config) ServiceConfig() service.Config {
	delays := make([]time.Duration, 0, len(c.RetryDelaySecs))
	for _, secs := range c.RetryDelaySecs {
		delays = append(delays, time.Duration(secs)*time.Second)
	}
	return service.Config{
		MaxConcurrentSteps: c.MaxConcurrentSteps,
		DefaultTimeout:     time.Duration(c.DefaultTimeoutSecs) * time.Second,
		RetryDelays:        delays,
	}
}
