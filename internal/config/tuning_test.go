package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	// Getter methods must supply compiled-in defaults when nothing is loaded.
	if cfg.GetHampelWindowSize() != 10 {
		t.Errorf("GetHampelWindowSize() = %d, want 10", cfg.GetHampelWindowSize())
	}
	if cfg.GetHampelK() != 3.0 {
		t.Errorf("GetHampelK() = %f, want 3.0", cfg.GetHampelK())
	}
	if cfg.GetDeadbandHorizontalMps() != 0.2 {
		t.Errorf("GetDeadbandHorizontalMps() = %f, want 0.2", cfg.GetDeadbandHorizontalMps())
	}
	if cfg.GetDeadbandVerticalMps() != 0.05 {
		t.Errorf("GetDeadbandVerticalMps() = %f, want 0.05", cfg.GetDeadbandVerticalMps())
	}
	if cfg.GetSlowEMATauHorizontal() != 25.0 {
		t.Errorf("GetSlowEMATauHorizontal() = %f, want 25.0", cfg.GetSlowEMATauHorizontal())
	}
	if cfg.GetSlowEMATauVertical() != 30.0 {
		t.Errorf("GetSlowEMATauVertical() = %f, want 30.0", cfg.GetSlowEMATauVertical())
	}
	if cfg.GetLandedSetConfidence() != 0.75 {
		t.Errorf("GetLandedSetConfidence() = %f, want 0.75", cfg.GetLandedSetConfidence())
	}
	if cfg.GetLandedClearConfidence() != 0.40 {
		t.Errorf("GetLandedClearConfidence() = %f, want 0.40", cfg.GetLandedClearConfidence())
	}
	if cfg.GetFallbackHold() != 30*time.Second {
		t.Errorf("GetFallbackHold() = %v, want 30s", cfg.GetFallbackHold())
	}
	if cfg.GetPredictionCacheTTL() != 300*time.Second {
		t.Errorf("GetPredictionCacheTTL() = %v, want 300s", cfg.GetPredictionCacheTTL())
	}
	if cfg.GetTimeBucket() != 10*time.Minute {
		t.Errorf("GetTimeBucket() = %v, want 10m", cfg.GetTimeBucket())
	}
	if cfg.GetCheckpointEveryPoints() != 10 {
		t.Errorf("GetCheckpointEveryPoints() = %d, want 10", cfg.GetCheckpointEveryPoints())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Partial config: unspecified fields must keep their defaults.
	testJSON := `{
  "hampel_window_size": 15,
  "hampel_k": 2.5,
  "fallback_hold": "45s",
  "prediction_cache_ttl": "120s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.HampelWindowSize == nil || *cfg.HampelWindowSize != 15 {
		t.Errorf("Expected HampelWindowSize 15, got %v", cfg.HampelWindowSize)
	}
	if cfg.GetHampelK() != 2.5 {
		t.Errorf("GetHampelK() = %f, want 2.5", cfg.GetHampelK())
	}
	if cfg.GetFallbackHold() != 45*time.Second {
		t.Errorf("GetFallbackHold() = %v, want 45s", cfg.GetFallbackHold())
	}
	if cfg.GetPredictionCacheTTL() != 120*time.Second {
		t.Errorf("GetPredictionCacheTTL() = %v, want 120s", cfg.GetPredictionCacheTTL())
	}
	// Untouched field falls back to default.
	if cfg.GetLandedSetConfidence() != 0.75 {
		t.Errorf("GetLandedSetConfidence() = %f, want default 0.75", cfg.GetLandedSetConfidence())
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadTuningConfig("tuning.yaml")
	if err == nil {
		t.Fatal("expected error for non-json extension")
	}
	if !strings.Contains(err.Error(), ".json") {
		t.Errorf("error should mention extension, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TuningConfig)
		wantErr string
	}{
		{
			name:   "empty config is valid",
			mutate: func(c *TuningConfig) {},
		},
		{
			name:    "hampel window too small",
			mutate:  func(c *TuningConfig) { c.HampelWindowSize = ptrInt(2) },
			wantErr: "hampel_window_size",
		},
		{
			name:    "negative hampel k",
			mutate:  func(c *TuningConfig) { c.HampelK = ptrFloat64(-1) },
			wantErr: "hampel_k",
		},
		{
			name: "weights must sum to one",
			mutate: func(c *TuningConfig) {
				c.WeightAltitude = ptrFloat64(0.5)
				c.WeightPosition = ptrFloat64(0.5)
				c.WeightSpeed = ptrFloat64(0.5)
				c.WeightSamples = ptrFloat64(0.5)
			},
			wantErr: "sum to 1.0",
		},
		{
			name: "clear threshold must be below set threshold",
			mutate: func(c *TuningConfig) {
				c.LandedSetConfidence = ptrFloat64(0.4)
				c.LandedClearConfidence = ptrFloat64(0.6)
			},
			wantErr: "landed_clear_confidence",
		},
		{
			name:    "bad duration string",
			mutate:  func(c *TuningConfig) { c.FallbackHold = ptrString("thirty seconds") },
			wantErr: "fallback_hold",
		},
		{
			name:    "zero cache capacity",
			mutate:  func(c *TuningConfig) { c.PredictionCacheCapacity = ptrInt(0) },
			wantErr: "prediction_cache_capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EmptyTuningConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfigMatchesCompiledDefaults(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The canonical defaults file and compiled-in getter defaults must agree;
	// drift between them is a packaging bug.
	if cfg.GetHampelWindowSize() != EmptyTuningConfig().GetHampelWindowSize() {
		t.Errorf("hampel_window_size drift: file=%d compiled=%d",
			cfg.GetHampelWindowSize(), EmptyTuningConfig().GetHampelWindowSize())
	}
	if cfg.GetWeightAltitude()+cfg.GetWeightPosition()+cfg.GetWeightSpeed()+cfg.GetWeightSamples() != 1.0 {
		t.Error("landing weights in defaults file must sum to 1.0")
	}
	if cfg.GetPredictionMinInterval() != 30*time.Second {
		t.Errorf("GetPredictionMinInterval() = %v, want 30s", cfg.GetPredictionMinInterval())
	}
}
