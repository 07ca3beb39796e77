// Package config loads experiment descriptions from YAML files.
//
// Before parsing, a .env file next to the experiment file and one in the
// working directory are loaded into the environment (existing variables win),
// and ${VAR} references in the file are expanded.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty.
const (
	DefaultName                     = "cosim"
	DefaultTimestep                 = 0.01
	DefaultApproximateTimeRange     = 0.0001
	DefaultAdvanceTimeout           = 10 * time.Second
	DefaultMaxConsecutiveTFFailures = 3
)

// Environment variables overriding the file.
const (
	EnvMonitorPort     = "COSIM_MONITOR_PORT"
	EnvRecordingOutput = "COSIM_RECORDING_OUTPUT"
)

// Experiment describes one co-simulation run.
type Experiment struct {
	Name                     string         `yaml:"name"`
	Timestep                 float64        `yaml:"timestep"`
	ApproximateTimeRange     *float64       `yaml:"approximate_time_range"`
	Steps                    uint64         `yaml:"steps"`
	SimulationTimeout        time.Duration  `yaml:"simulation_timeout"`
	AdvanceTimeout           *time.Duration `yaml:"advance_timeout"`
	MaxConsecutiveTFFailures *int           `yaml:"max_consecutive_tf_failures"`
	ParallelAdvance          bool           `yaml:"parallel_advance"`
	Engines                  []Engine       `yaml:"engines"`
	TransceiverFunctions     []Function     `yaml:"transceiver_functions"`
	Recording                Recording      `yaml:"recording"`
	Monitoring               Monitoring     `yaml:"monitoring"`
}

// Engine configures one engine instance.
type Engine struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Timestep float64           `yaml:"timestep"`
	Critical bool              `yaml:"critical"`
	Params   map[string]string `yaml:"params"`
}

// Function overrides the declaration of a transceiver function.
type Function struct {
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
}

// Recording configures the sqlite recording of a run.
type Recording struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

// Monitoring configures the monitoring server.
type Monitoring struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ConfigError lists every problem found in an experiment.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Load reads an experiment file.
func Load(path string) (Experiment, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	loadDotEnv(".env")

	data, err := os.ReadFile(path)
	if err != nil {
		return Experiment{}, err
	}

	exp, err := Parse(data)
	if err != nil {
		return Experiment{}, fmt.Errorf("%s: %w", path, err)
	}

	return exp, nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	err := godotenv.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ignoring %s: %v\n", path, err)
	}
}

// Parse decodes an experiment, applies defaults and environment overrides
// and validates the result.
func Parse(data []byte) (Experiment, error) {
	expanded := os.Expand(string(data), os.Getenv)

	var exp Experiment

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	err := dec.Decode(&exp)
	if err != nil && !errors.Is(err, io.EOF) {
		return Experiment{}, &ConfigError{Problems: []string{err.Error()}}
	}

	problems := &ConfigError{}

	exp.applyDefaults()
	exp.applyEnv(problems)
	exp.validate(problems)

	if len(problems.Problems) > 0 {
		return Experiment{}, problems
	}

	return exp, nil
}

func (e *Experiment) applyDefaults() {
	if e.Name == "" {
		e.Name = DefaultName
	}

	if e.Timestep == 0 {
		e.Timestep = DefaultTimestep
	}

	if e.ApproximateTimeRange == nil {
		r := DefaultApproximateTimeRange
		e.ApproximateTimeRange = &r
	}

	if e.AdvanceTimeout == nil {
		d := DefaultAdvanceTimeout
		e.AdvanceTimeout = &d
	}

	if e.MaxConsecutiveTFFailures == nil {
		n := DefaultMaxConsecutiveTFFailures
		e.MaxConsecutiveTFFailures = &n
	}

	for i := range e.Engines {
		if e.Engines[i].Timestep == 0 {
			e.Engines[i].Timestep = e.Timestep
		}
	}
}

func (e *Experiment) applyEnv(problems *ConfigError) {
	if v, ok := os.LookupEnv(EnvMonitorPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			problems.add("%s: %v", EnvMonitorPort, err)
		} else {
			e.Monitoring.Enabled = true
			e.Monitoring.Port = port
		}
	}

	if v, ok := os.LookupEnv(EnvRecordingOutput); ok && v != "" {
		e.Recording.Enabled = true
		e.Recording.Output = v
	}
}

func (e *Experiment) validate(problems *ConfigError) {
	if e.Timestep < 0 {
		problems.add("timestep must be positive, got %v", e.Timestep)
	}

	if r := *e.ApproximateTimeRange; r < 0 || r >= e.Timestep {
		problems.add("approximate_time_range must be in [0, timestep), got %v", r)
	}

	if e.SimulationTimeout < 0 {
		problems.add("simulation_timeout must not be negative")
	}

	if *e.AdvanceTimeout < 0 {
		problems.add("advance_timeout must not be negative")
	}

	if *e.MaxConsecutiveTFFailures < 0 {
		problems.add("max_consecutive_tf_failures must not be negative")
	}

	if port := e.Monitoring.Port; port != 0 && (port < 1000 || port > 65535) {
		problems.add("monitoring port %d is not in [1000, 65535]", port)
	}

	e.validateEngines(problems)
	e.validateFunctions(problems)
}

func (e *Experiment) validateEngines(problems *ConfigError) {
	if len(e.Engines) == 0 {
		problems.add("no engines configured")
	}

	seen := make(map[string]bool)

	for i, eng := range e.Engines {
		switch {
		case eng.Name == "":
			problems.add("engines[%d]: name is empty", i)
		case seen[eng.Name]:
			problems.add("engines[%d]: duplicate engine name %q", i, eng.Name)
		}

		seen[eng.Name] = true

		if eng.Type == "" {
			problems.add("engines[%d]: type is empty", i)
		}

		if eng.Timestep < 0 {
			problems.add("engines[%d]: timestep must be positive, got %v",
				i, eng.Timestep)
		}
	}
}

func (e *Experiment) validateFunctions(problems *ConfigError) {
	seen := make(map[string]bool)

	for i, f := range e.TransceiverFunctions {
		switch {
		case f.Name == "":
			problems.add("transceiver_functions[%d]: name is empty", i)
		case seen[f.Name]:
			problems.add("transceiver_functions[%d]: duplicate function %q",
				i, f.Name)
		}

		seen[f.Name] = true
	}
}

// FunctionActive returns the configured active flag of a function.
func (e Experiment) FunctionActive(name string) (active, set bool) {
	for _, f := range e.TransceiverFunctions {
		if f.Name == name && f.Active != nil {
			return *f.Active, true
		}
	}

	return false, false
}
