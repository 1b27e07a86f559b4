package sched

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors the OS configuration file (os.yml).
type Config struct {
	TickMS          int              `yaml:"tick_ms"`        // 5 (by default)
	ErrorChecking   string           `yaml:"error_checking"` // standard | extended
	Conformance     string           `yaml:"conformance"`    // BCC1 | BCC2 | ECC1 | ECC2
	UseResScheduler bool             `yaml:"use_res_scheduler"`
	AppModes        []string         `yaml:"app_modes"`
	Tasks           []TaskConfig     `yaml:"tasks"`
	Resources       []ResourceConfig `yaml:"resources"`
	Counters        []CounterConfig  `yaml:"counters"`
	Alarms          []AlarmConfig    `yaml:"alarms"`
}

// TaskConfig is one task entry.
type TaskConfig struct {
	Name             string   `yaml:"name"`
	Priority         int      `yaml:"priority"`
	Activation       int      `yaml:"activation"`
	Kind             string   `yaml:"kind"`     // basic | extended
	Schedule         string   `yaml:"schedule"` // full | non
	InternalResource string   `yaml:"internal_resource"`
	Events           []uint32 `yaml:"events"`
	Entry            string   `yaml:"entry"` // registry name, defaults to Name
	AutoStart        []string `yaml:"autostart"`
}

// ResourceConfig is one resource entry. The ceiling is derived from the
// tasks that may use it.
type ResourceConfig struct {
	Name     string   `yaml:"name"`
	Users    []string `yaml:"users"`
	Internal bool     `yaml:"internal"`
}

// CounterConfig is one counter entry.
type CounterConfig struct {
	Name         string `yaml:"name"`
	MaxAllowed   uint32 `yaml:"max_allowed"`
	MinCycle     uint32 `yaml:"min_cycle"`
	TicksPerBase uint32 `yaml:"ticks_per_base"`
	Kind         string `yaml:"kind"` // hardware | software
}

// AlarmConfig is one alarm entry.
type AlarmConfig struct {
	Name      string            `yaml:"name"`
	Counter   string            `yaml:"counter"`
	Action    AlarmActionConfig `yaml:"action"`
	AutoStart *AlarmAutoConfig  `yaml:"autostart"`
}

// AlarmActionConfig selects the expiry action.
type AlarmActionConfig struct {
	Kind     string `yaml:"kind"` // activate | setevent | callback
	Task     string `yaml:"task"`
	Mask     uint32 `yaml:"mask"`
	Callback string `yaml:"callback"`
}

// AlarmAutoConfig arms an alarm from StartOS.
type AlarmAutoConfig struct {
	Type  string   `yaml:"type"` // relative | absolute
	Time  uint32   `yaml:"time"`
	Cycle uint32   `yaml:"cycle"`
	Modes []string `yaml:"modes"`
}

// DefaultAppMode is the application mode used when none is configured.
const DefaultAppMode = "OSDEFAULTAPPMODE"

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		TickMS:        5,
		ErrorChecking: "extended",
		Conformance:   "ECC2",
		AppModes:      []string{DefaultAppMode},
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// sanity clamps
	if cfg.TickMS <= 0 {
		cfg.TickMS = 5
	}
	if len(cfg.AppModes) == 0 {
		cfg.AppModes = []string{DefaultAppMode}
	}
	for i := range cfg.Tasks {
		if cfg.Tasks[i].Activation <= 0 {
			cfg.Tasks[i].Activation = 1
		}
	}
	for i := range cfg.Counters {
		if cfg.Counters[i].TicksPerBase == 0 {
			cfg.Counters[i].TicksPerBase = 1
		}
		if cfg.Counters[i].MinCycle == 0 {
			cfg.Counters[i].MinCycle = 1
		}
	}
	return cfg, nil
}
