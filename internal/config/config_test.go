package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HexSleeves/apiary/internal/bee"
	hiveerr "github.com/HexSleeves/apiary/internal/errors"
)

func TestDefaultConfig_HiveDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Hive.Frames != 10 {
		t.Errorf("Hive.Frames = %d, want %d", cfg.Hive.Frames, 10)
	}
	if cfg.Hive.MaxFrames != 1000 {
		t.Errorf("Hive.MaxFrames = %d, want %d", cfg.Hive.MaxFrames, 1000)
	}
	if cfg.HiveDir != ".hive" {
		t.Errorf("HiveDir = %q, want %q", cfg.HiveDir, ".hive")
	}
	if cfg.LogPath() != filepath.Join(".hive", "beehive.log") {
		t.Errorf("LogPath() = %q", cfg.LogPath())
	}
}

func TestDefaultConfig_QueenAndBeeDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Queen.LayInterval != 5*time.Second {
		t.Errorf("Queen.LayInterval = %v, want %v", cfg.Queen.LayInterval, 5*time.Second)
	}
	if cfg.Queen.EggsPerCycle != 2 {
		t.Errorf("Queen.EggsPerCycle = %d, want %d", cfg.Queen.EggsPerCycle, 2)
	}
	if cfg.Bees.MaxVisits != 3 {
		t.Errorf("Bees.MaxVisits = %d, want %d", cfg.Bees.MaxVisits, 3)
	}
	want := bee.Range{Min: 30 * time.Second, Max: 60 * time.Second}
	if cfg.Bees.HiveTime != want {
		t.Errorf("Bees.HiveTime = %+v, want %+v", cfg.Bees.HiveTime, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Hive.Frames != 10 {
		t.Errorf("Hive.Frames = %d, want default", cfg.Hive.Frames)
	}
}

func TestLoad_JSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"hive": {"frames": 40}, "queen": {"lay_interval": 2000000000}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Hive.Frames != 40 {
		t.Errorf("Hive.Frames = %d, want 40", cfg.Hive.Frames)
	}
	if cfg.Queen.LayInterval != 2*time.Second {
		t.Errorf("Queen.LayInterval = %v, want 2s", cfg.Queen.LayInterval)
	}
	if cfg.Queen.EggsPerCycle != 2 {
		t.Errorf("untouched fields keep their defaults, got eggs %d", cfg.Queen.EggsPerCycle)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apiary.yaml")
	data := `
hive:
  frames: 20
queen:
  lay_interval: 3s
  eggs_per_cycle: 4
bees:
  hive_time:
    min: 2s
    max: 4s
time_scale: 10
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Hive.Frames != 20 || cfg.Queen.EggsPerCycle != 4 {
		t.Errorf("unexpected values: %+v", cfg)
	}
	if cfg.Queen.LayInterval != 3*time.Second {
		t.Errorf("Queen.LayInterval = %v, want 3s", cfg.Queen.LayInterval)
	}
	if cfg.Bees.HiveTime != (bee.Range{Min: 2 * time.Second, Max: 4 * time.Second}) {
		t.Errorf("Bees.HiveTime = %+v", cfg.Bees.HiveTime)
	}
	if cfg.TimeScale != 10 {
		t.Errorf("TimeScale = %g, want 10", cfg.TimeScale)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apiary.toml")
	data := `
seed = 7

[hive]
frames = 16

[bees]
max_visits = 5
transit = "50ms"

[bees.outside_time]
min = "1s"
max = "2s"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Hive.Frames != 16 || cfg.Bees.MaxVisits != 5 || cfg.Seed != 7 {
		t.Errorf("unexpected values: %+v", cfg)
	}
	if cfg.Bees.Transit != 50*time.Millisecond {
		t.Errorf("Bees.Transit = %v, want 50ms", cfg.Bees.Transit)
	}
	if cfg.Bees.OutsideTime != (bee.Range{Min: time.Second, Max: 2 * time.Second}) {
		t.Errorf("Bees.OutsideTime = %+v", cfg.Bees.OutsideTime)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", name)
			cfg := DefaultConfig()
			cfg.Hive.Frames = 64
			cfg.Bees.FirstFlight = bee.Range{Min: 250 * time.Millisecond, Max: time.Second}
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save = %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load = %v", err)
			}
			if loaded.Hive.Frames != 64 {
				t.Errorf("Hive.Frames = %d, want 64", loaded.Hive.Frames)
			}
			if loaded.Bees.FirstFlight != cfg.Bees.FirstFlight {
				t.Errorf("Bees.FirstFlight = %+v, want %+v", loaded.Bees.FirstFlight, cfg.Bees.FirstFlight)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hive.Frames = 0
	cfg.Queen.EggsPerCycle = -1
	cfg.Bees.HiveTime = bee.Range{Min: 5 * time.Second, Max: time.Second}
	cfg.TimeScale = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !hiveerr.IsResource(err) {
		t.Errorf("validation errors should be resource errors, got %T", err)
	}
	for _, want := range []string{"hive.frames", "queen.eggs_per_cycle", "bees.hive_time", "time_scale"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNormalizeClampsFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hive.Frames = 5000

	warnings := cfg.Normalize()
	if cfg.Hive.Frames != 1000 {
		t.Errorf("Hive.Frames = %d, want clamp to 1000", cfg.Hive.Frames)
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning, got %v", warnings)
	}
}

func TestNormalizeWarnsWhenEggsNeverFit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hive.Frames = 4
	if warnings := cfg.Normalize(); len(warnings) != 1 || !strings.Contains(warnings[0], "eggs_per_cycle") {
		t.Errorf("expected eggs warning, got %v", warnings)
	}
}

func TestScaledBeeConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeScale = 10

	bc := cfg.BeeConfig()
	if bc.HiveTime != (bee.Range{Min: 3 * time.Second, Max: 6 * time.Second}) {
		t.Errorf("HiveTime = %+v", bc.HiveTime)
	}
	if got := cfg.Scale(cfg.Queen.LayInterval); got != 500*time.Millisecond {
		t.Errorf("Scale(LayInterval) = %v, want 500ms", got)
	}
	if bc.MaxVisits != 3 {
		t.Errorf("MaxVisits = %d, want 3", bc.MaxVisits)
	}
}
