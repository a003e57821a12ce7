// Package config loads the process-wide runtime configuration: the
// handful of knobs that govern logging, the debug agent's listen
// address, and whether the preemption timer runs, none of which the world-coordination
// core itself has an opinion on.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration document, loaded once at process
// startup.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Agent   AgentConfig   `toml:"agent"`
	Preempt PreemptConfig `toml:"preempt"`
}

// LogConfig controls the ambient logger.
type LogConfig struct {
	Level    string `toml:"level"`
	Colorize bool   `toml:"colorize"`
}

// AgentConfig controls the debug/query agent's listen behavior. Addr is
// the one knob Reinit resets after a fork: a child process must never
// keep listening on the parent's address.
type AgentConfig struct {
	Addr string `toml:"addr"`
}

// PreemptConfig controls the preemption timer.
type PreemptConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Colorize: true},
		Agent:   AgentConfig{Addr: "/ip4/127.0.0.1/tcp/4001"},
		Preempt: PreemptConfig{Enabled: true},
	}
}

// Load reads and parses a TOML configuration file at path, starting from
// Default() so an omitted section keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// ResetForChild clears the one knob that would be actively wrong to
// inherit across a fork-like Reinit: the agent's listen address. A child
// that kept listening on the parent's address would either fail to bind
// (if the parent is still up) or silently shadow it (if the parent
// already exited), neither of which the child can distinguish from here.
func (c *Config) ResetForChild() {
	c.Agent.Addr = ""
}
