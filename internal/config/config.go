package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/HexSleeves/apiary/internal/bee"
	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
)

// DefaultFile is the config file looked up inside the hive directory.
const DefaultFile = "config.json"

type Config struct {
	// Where the journal and log file live
	HiveDir string `json:"hive_dir" yaml:"hive_dir" toml:"hive_dir"`
	LogFile string `json:"log_file" yaml:"log_file" toml:"log_file"`

	// Capacity settings
	Hive HiveConfig `json:"hive" yaml:"hive" toml:"hive"`

	// Queen settings
	Queen QueenConfig `json:"queen" yaml:"queen" toml:"queen"`

	// Bee timings
	Bees BeeConfig `json:"bees" yaml:"bees" toml:"bees"`

	// TimeScale divides every duration; 10 runs the colony ten times faster.
	TimeScale float64 `json:"time_scale" yaml:"time_scale" toml:"time_scale"`
	// Seed fixes every random source; 0 seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed" toml:"seed"`
}

type HiveConfig struct {
	Frames    int `json:"frames" yaml:"frames" toml:"frames"`
	MaxFrames int `json:"max_frames" yaml:"max_frames" toml:"max_frames"`
}

type QueenConfig struct {
	LayInterval  time.Duration `json:"lay_interval" yaml:"lay_interval" toml:"lay_interval"`
	EggsPerCycle int           `json:"eggs_per_cycle" yaml:"eggs_per_cycle" toml:"eggs_per_cycle"`
}

type BeeConfig struct {
	MaxVisits     int           `json:"max_visits" yaml:"max_visits" toml:"max_visits"`
	HiveTime      bee.Range     `json:"hive_time" yaml:"hive_time" toml:"hive_time"`
	OutsideTime   bee.Range     `json:"outside_time" yaml:"outside_time" toml:"outside_time"`
	FirstFlight   bee.Range     `json:"first_flight" yaml:"first_flight" toml:"first_flight"`
	Transit       time.Duration `json:"transit" yaml:"transit" toml:"transit"`
	CapacityRetry time.Duration `json:"capacity_retry" yaml:"capacity_retry" toml:"capacity_retry"`
}

func DefaultConfig() *Config {
	return &Config{
		HiveDir: ".hive",
		LogFile: "beehive.log",
		Hive: HiveConfig{
			Frames:    10,
			MaxFrames: hive.DefaultMaxFrames,
		},
		Queen: QueenConfig{
			LayInterval:  5 * time.Second,
			EggsPerCycle: 2,
		},
		Bees: BeeConfig{
			MaxVisits:     3,
			HiveTime:      bee.Range{Min: 30 * time.Second, Max: 60 * time.Second},
			OutsideTime:   bee.Range{Min: 10 * time.Second, Max: 20 * time.Second},
			FirstFlight:   bee.Range{Min: 1 * time.Second, Max: 5 * time.Second},
			Transit:       100 * time.Millisecond,
			CapacityRetry: time.Second,
		},
		TimeScale: 1,
	}
}

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatJSON
	}
}

// Load reads path over the defaults. A missing file yields the defaults. The
// format follows the extension: .yaml/.yml, .toml, anything else is JSON.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	switch formatOf(path) {
	case formatYAML:
		err = yaml.Unmarshal(data, cfg)
	case formatTOML:
		_, err = toml.Decode(string(data), cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) HivePath(parts ...string) string {
	elems := append([]string{c.HiveDir}, parts...)
	return filepath.Join(elems...)
}

// LogPath returns the log file location. A relative LogFile lives in the hive dir.
func (c *Config) LogPath() string {
	if filepath.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return c.HivePath(c.LogFile)
}

func (c *Config) Save(path string) error {
	var data []byte
	var err error
	switch formatOf(path) {
	case formatYAML:
		data, err = yaml.Marshal(c)
	case formatTOML:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations the colony cannot start with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Hive.Frames > 0, "hive.frames must be > 0 (got %d)", c.Hive.Frames)
	check(c.Hive.MaxFrames > 0, "hive.max_frames must be > 0 (got %d)", c.Hive.MaxFrames)
	check(c.Queen.LayInterval > 0, "queen.lay_interval must be > 0 (got %v)", c.Queen.LayInterval)
	check(c.Queen.EggsPerCycle > 0, "queen.eggs_per_cycle must be > 0 (got %d)", c.Queen.EggsPerCycle)
	check(c.Bees.MaxVisits > 0, "bees.max_visits must be > 0 (got %d)", c.Bees.MaxVisits)
	for name, r := range map[string]bee.Range{
		"bees.hive_time":    c.Bees.HiveTime,
		"bees.outside_time": c.Bees.OutsideTime,
		"bees.first_flight": c.Bees.FirstFlight,
	} {
		if err := r.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	check(c.Bees.Transit > 0, "bees.transit must be > 0 (got %v)", c.Bees.Transit)
	check(c.Bees.CapacityRetry > 0, "bees.capacity_retry must be > 0 (got %v)", c.Bees.CapacityRetry)
	check(c.TimeScale > 0, "time_scale must be > 0 (got %g)", c.TimeScale)

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return hiveerr.NewResourceError(fmt.Errorf("invalid config: %s", strings.Join(problems, "; ")), "config")
}

// Normalize clamps values that are legal but out of range and returns a
// warning for each adjustment.
func (c *Config) Normalize() []string {
	var warnings []string
	if c.Hive.MaxFrames > 0 && c.Hive.Frames > c.Hive.MaxFrames {
		warnings = append(warnings, fmt.Sprintf("hive.frames %d clamped to max_frames %d", c.Hive.Frames, c.Hive.MaxFrames))
		c.Hive.Frames = c.Hive.MaxFrames
	}
	if c.Queen.EggsPerCycle > hive.Admissible(c.Hive.Frames) {
		warnings = append(warnings, fmt.Sprintf("queen.eggs_per_cycle %d exceeds the %d bees N=%d admits; the queen will skip until the hive grows",
			c.Queen.EggsPerCycle, hive.Admissible(c.Hive.Frames), c.Hive.Frames))
	}
	return warnings
}

// Scale divides d by TimeScale.
func (c *Config) Scale(d time.Duration) time.Duration {
	if c.TimeScale <= 0 || c.TimeScale == 1 {
		return d
	}
	return max(time.Duration(float64(d)/c.TimeScale), time.Microsecond)
}

// BeeConfig returns the scaled per-bee parameters.
func (c *Config) BeeConfig() bee.Config {
	return bee.Config{
		MaxVisits:   c.Bees.MaxVisits,
		HiveTime:    c.Bees.HiveTime.Scale(c.TimeScale),
		OutsideTime: c.Bees.OutsideTime.Scale(c.TimeScale),
		FirstFlight: c.Bees.FirstFlight.Scale(c.TimeScale),
	}
}

