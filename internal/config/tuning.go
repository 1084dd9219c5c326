package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every empirically tuned constant in the tracker lives here so that the
// same JSON file can drive startup configuration, runtime updates through
// the API, and test overrides. All landing weights/thresholds are field
// data, not derived physics; recalibrate against real flights rather than
// re-deriving them.
type TuningConfig struct {
	// Motion filter params
	HampelWindowSize      *int     `json:"hampel_window_size,omitempty"`
	HampelK               *float64 `json:"hampel_k,omitempty"`
	DeadbandHorizontalMps *float64 `json:"deadband_horizontal_mps,omitempty"`
	DeadbandVerticalMps   *float64 `json:"deadband_vertical_mps,omitempty"`
	FastEMATauSeconds     *float64 `json:"fast_ema_tau_seconds,omitempty"`
	SlowEMATauHorizontal  *float64 `json:"slow_ema_tau_horizontal_seconds,omitempty"`
	SlowEMATauVertical    *float64 `json:"slow_ema_tau_vertical_seconds,omitempty"`
	DescentWindowSeconds  *float64 `json:"descent_window_seconds,omitempty"`
	DescentMedianHistory  *int     `json:"descent_median_history,omitempty"`
	DescentMinSamples     *int     `json:"descent_min_samples,omitempty"`
	MinDtSeconds          *float64 `json:"min_dt_seconds,omitempty"`
	FallbackDtSeconds     *float64 `json:"fallback_dt_seconds,omitempty"`

	// Landing detector params
	LandingWindowSeconds      *float64 `json:"landing_window_seconds,omitempty"`
	LandingMinSamples         *int     `json:"landing_min_samples,omitempty"`
	AltitudeStabilitySigmaM   *float64 `json:"altitude_stability_sigma_m,omitempty"`
	PositionStabilityRadiusM  *float64 `json:"position_stability_radius_m,omitempty"`
	SpeedStabilityMps         *float64 `json:"speed_stability_mps,omitempty"`
	SampleConfidenceCount     *int     `json:"sample_confidence_count,omitempty"`
	WeightAltitude            *float64 `json:"weight_altitude,omitempty"`
	WeightPosition            *float64 `json:"weight_position,omitempty"`
	WeightSpeed               *float64 `json:"weight_speed,omitempty"`
	WeightSamples             *float64 `json:"weight_samples,omitempty"`
	LandedSetConfidence       *float64 `json:"landed_set_confidence,omitempty"`
	LandedClearConfidence     *float64 `json:"landed_clear_confidence,omitempty"`
	LandedClearCount          *int     `json:"landed_clear_count,omitempty"`
	LandingPositionBuffer     *int     `json:"landing_position_buffer,omitempty"`
	LandingPositionMinSamples *int     `json:"landing_position_min_samples,omitempty"`
	StaleFallbackSeconds      *float64 `json:"stale_fallback_seconds,omitempty"`
	DescentSplitAltitudeM     *float64 `json:"descent_split_altitude_m,omitempty"`

	// Arbiter params
	PrimaryStaleSeconds  *float64 `json:"primary_stale_seconds,omitempty"`
	FallbackStaleSeconds *float64 `json:"fallback_stale_seconds,omitempty"`
	FallbackHold         *string  `json:"fallback_hold,omitempty"` // duration string like "30s"

	// Prediction cache/throttle params
	PredictionCacheTTL      *string  `json:"prediction_cache_ttl,omitempty"`      // duration string like "300s"
	PredictionCacheCapacity *int     `json:"prediction_cache_capacity,omitempty"` //
	PredictionMinInterval   *string  `json:"prediction_min_interval,omitempty"`   // duration string like "30s"
	PredictionTimerInterval *string  `json:"prediction_timer_interval,omitempty"` // duration string like "60s"
	LatLonQuantumDegrees    *float64 `json:"lat_lon_quantum_degrees,omitempty"`
	AltitudeQuantumM        *float64 `json:"altitude_quantum_m,omitempty"`
	TimeBucket              *string  `json:"time_bucket,omitempty"` // duration string like "10m"
	DefaultDescentRateMps   *float64 `json:"default_descent_rate_mps,omitempty"`
	BurstAltitudeMarginM    *float64 `json:"burst_altitude_margin_m,omitempty"`

	// Pipeline params
	CheckpointEveryPoints *int `json:"checkpoint_every_points,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.HampelWindowSize != nil && *c.HampelWindowSize < 3 {
		return fmt.Errorf("hampel_window_size must be at least 3, got %d", *c.HampelWindowSize)
	}
	if c.HampelK != nil && *c.HampelK <= 0 {
		return fmt.Errorf("hampel_k must be positive, got %f", *c.HampelK)
	}

	// Landing weights, when all four are set, must form a convex combination.
	if c.WeightAltitude != nil && c.WeightPosition != nil && c.WeightSpeed != nil && c.WeightSamples != nil {
		sum := *c.WeightAltitude + *c.WeightPosition + *c.WeightSpeed + *c.WeightSamples
		if sum < 0.999 || sum > 1.001 {
			return fmt.Errorf("landing weights must sum to 1.0, got %f", sum)
		}
	}

	if c.LandedSetConfidence != nil {
		if *c.LandedSetConfidence < 0 || *c.LandedSetConfidence > 1 {
			return fmt.Errorf("landed_set_confidence must be between 0 and 1, got %f", *c.LandedSetConfidence)
		}
	}
	if c.LandedClearConfidence != nil {
		if *c.LandedClearConfidence < 0 || *c.LandedClearConfidence > 1 {
			return fmt.Errorf("landed_clear_confidence must be between 0 and 1, got %f", *c.LandedClearConfidence)
		}
	}
	if c.LandedSetConfidence != nil && c.LandedClearConfidence != nil {
		if *c.LandedClearConfidence >= *c.LandedSetConfidence {
			return fmt.Errorf("landed_clear_confidence (%f) must be below landed_set_confidence (%f)",
				*c.LandedClearConfidence, *c.LandedSetConfidence)
		}
	}

	// Validate duration strings can be parsed if set
	for name, v := range map[string]*string{
		"fallback_hold":             c.FallbackHold,
		"prediction_cache_ttl":      c.PredictionCacheTTL,
		"prediction_min_interval":   c.PredictionMinInterval,
		"prediction_timer_interval": c.PredictionTimerInterval,
		"time_bucket":               c.TimeBucket,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.PredictionCacheCapacity != nil && *c.PredictionCacheCapacity < 1 {
		return fmt.Errorf("prediction_cache_capacity must be positive, got %d", *c.PredictionCacheCapacity)
	}
	if c.CheckpointEveryPoints != nil && *c.CheckpointEveryPoints < 1 {
		return fmt.Errorf("checkpoint_every_points must be positive, got %d", *c.CheckpointEveryPoints)
	}

	return nil
}

// GetHampelWindowSize returns the hampel_window_size value or the default.
func (c *TuningConfig) GetHampelWindowSize() int {
	if c.HampelWindowSize == nil {
		return 10
	}
	return *c.HampelWindowSize
}

// GetHampelK returns the hampel_k value or the default.
func (c *TuningConfig) GetHampelK() float64 {
	if c.HampelK == nil {
		return 3.0
	}
	return *c.HampelK
}

// GetDeadbandHorizontalMps returns the deadband_horizontal_mps value or the default.
func (c *TuningConfig) GetDeadbandHorizontalMps() float64 {
	if c.DeadbandHorizontalMps == nil {
		return 0.2
	}
	return *c.DeadbandHorizontalMps
}

// GetDeadbandVerticalMps returns the deadband_vertical_mps value or the default.
func (c *TuningConfig) GetDeadbandVerticalMps() float64 {
	if c.DeadbandVerticalMps == nil {
		return 0.05
	}
	return *c.DeadbandVerticalMps
}

// GetFastEMATauSeconds returns the fast_ema_tau_seconds value or the default.
func (c *TuningConfig) GetFastEMATauSeconds() float64 {
	if c.FastEMATauSeconds == nil {
		return 3.0
	}
	return *c.FastEMATauSeconds
}

// GetSlowEMATauHorizontal returns the slow_ema_tau_horizontal_seconds value or the default.
func (c *TuningConfig) GetSlowEMATauHorizontal() float64 {
	if c.SlowEMATauHorizontal == nil {
		return 25.0
	}
	return *c.SlowEMATauHorizontal
}

// GetSlowEMATauVertical returns the slow_ema_tau_vertical_seconds value or the default.
func (c *TuningConfig) GetSlowEMATauVertical() float64 {
	if c.SlowEMATauVertical == nil {
		return 30.0
	}
	return *c.SlowEMATauVertical
}

// GetDescentWindowSeconds returns the descent_window_seconds value or the default.
func (c *TuningConfig) GetDescentWindowSeconds() float64 {
	if c.DescentWindowSeconds == nil {
		return 60.0
	}
	return *c.DescentWindowSeconds
}

// GetDescentMedianHistory returns the descent_median_history value or the default.
func (c *TuningConfig) GetDescentMedianHistory() int {
	if c.DescentMedianHistory == nil {
		return 20
	}
	return *c.DescentMedianHistory
}

// GetDescentMinSamples returns the descent_min_samples value or the default.
func (c *TuningConfig) GetDescentMinSamples() int {
	if c.DescentMinSamples == nil {
		return 3
	}
	return *c.DescentMinSamples
}

// GetMinDtSeconds returns the min_dt_seconds value or the default.
func (c *TuningConfig) GetMinDtSeconds() float64 {
	if c.MinDtSeconds == nil {
		return 0.01
	}
	return *c.MinDtSeconds
}

// GetFallbackDtSeconds returns the fallback_dt_seconds value or the default.
func (c *TuningConfig) GetFallbackDtSeconds() float64 {
	if c.FallbackDtSeconds == nil {
		return 1.0
	}
	return *c.FallbackDtSeconds
}

// GetLandingWindowSeconds returns the landing_window_seconds value or the default.
func (c *TuningConfig) GetLandingWindowSeconds() float64 {
	if c.LandingWindowSeconds == nil {
		return 30.0
	}
	return *c.LandingWindowSeconds
}

// GetLandingMinSamples returns the landing_min_samples value or the default.
func (c *TuningConfig) GetLandingMinSamples() int {
	if c.LandingMinSamples == nil {
		return 3
	}
	return *c.LandingMinSamples
}

// GetAltitudeStabilitySigmaM returns the altitude_stability_sigma_m value or the default.
// 12m tolerates typical consumer-GPS vertical error.
func (c *TuningConfig) GetAltitudeStabilitySigmaM() float64 {
	if c.AltitudeStabilitySigmaM == nil {
		return 12.0
	}
	return *c.AltitudeStabilitySigmaM
}

// GetPositionStabilityRadiusM returns the position_stability_radius_m value or the default.
func (c *TuningConfig) GetPositionStabilityRadiusM() float64 {
	if c.PositionStabilityRadiusM == nil {
		return 20.0
	}
	return *c.PositionStabilityRadiusM
}

// GetSpeedStabilityMps returns the speed_stability_mps value or the default.
func (c *TuningConfig) GetSpeedStabilityMps() float64 {
	if c.SpeedStabilityMps == nil {
		return 2.0
	}
	return *c.SpeedStabilityMps
}

// GetSampleConfidenceCount returns the sample_confidence_count value or the default.
func (c *TuningConfig) GetSampleConfidenceCount() int {
	if c.SampleConfidenceCount == nil {
		return 8
	}
	return *c.SampleConfidenceCount
}

// GetWeightAltitude returns the weight_altitude value or the default.
func (c *TuningConfig) GetWeightAltitude() float64 {
	if c.WeightAltitude == nil {
		return 0.2
	}
	return *c.WeightAltitude
}

// GetWeightPosition returns the weight_position value or the default.
func (c *TuningConfig) GetWeightPosition() float64 {
	if c.WeightPosition == nil {
		return 0.4
	}
	return *c.WeightPosition
}

// GetWeightSpeed returns the weight_speed value or the default.
func (c *TuningConfig) GetWeightSpeed() float64 {
	if c.WeightSpeed == nil {
		return 0.3
	}
	return *c.WeightSpeed
}

// GetWeightSamples returns the weight_samples value or the default.
func (c *TuningConfig) GetWeightSamples() float64 {
	if c.WeightSamples == nil {
		return 0.1
	}
	return *c.WeightSamples
}

// GetLandedSetConfidence returns the landed_set_confidence value or the default.
func (c *TuningConfig) GetLandedSetConfidence() float64 {
	if c.LandedSetConfidence == nil {
		return 0.75
	}
	return *c.LandedSetConfidence
}

// GetLandedClearConfidence returns the landed_clear_confidence value or the default.
func (c *TuningConfig) GetLandedClearConfidence() float64 {
	if c.LandedClearConfidence == nil {
		return 0.40
	}
	return *c.LandedClearConfidence
}

// GetLandedClearCount returns the landed_clear_count value or the default.
func (c *TuningConfig) GetLandedClearCount() int {
	if c.LandedClearCount == nil {
		return 3
	}
	return *c.LandedClearCount
}

// GetLandingPositionBuffer returns the landing_position_buffer value or the default.
func (c *TuningConfig) GetLandingPositionBuffer() int {
	if c.LandingPositionBuffer == nil {
		return 100
	}
	return *c.LandingPositionBuffer
}

// GetLandingPositionMinSamples returns the landing_position_min_samples value or the default.
func (c *TuningConfig) GetLandingPositionMinSamples() int {
	if c.LandingPositionMinSamples == nil {
		return 50
	}
	return *c.LandingPositionMinSamples
}

// GetStaleFallbackSeconds returns the stale_fallback_seconds value or the default.
func (c *TuningConfig) GetStaleFallbackSeconds() float64 {
	if c.StaleFallbackSeconds == nil {
		return 120.0
	}
	return *c.StaleFallbackSeconds
}

// GetDescentSplitAltitudeM returns the descent_split_altitude_m value or the default.
func (c *TuningConfig) GetDescentSplitAltitudeM() float64 {
	if c.DescentSplitAltitudeM == nil {
		return 10000.0
	}
	return *c.DescentSplitAltitudeM
}

// GetPrimaryStaleSeconds returns the primary_stale_seconds value or the default.
func (c *TuningConfig) GetPrimaryStaleSeconds() float64 {
	if c.PrimaryStaleSeconds == nil {
		return 3.0
	}
	return *c.PrimaryStaleSeconds
}

// GetFallbackStaleSeconds returns the fallback_stale_seconds value or the default.
func (c *TuningConfig) GetFallbackStaleSeconds() float64 {
	if c.FallbackStaleSeconds == nil {
		return 30.0
	}
	return *c.FallbackStaleSeconds
}

// GetFallbackHold parses and returns the FallbackHold as a time.Duration.
func (c *TuningConfig) GetFallbackHold() time.Duration {
	if c.FallbackHold == nil || *c.FallbackHold == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FallbackHold)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetPredictionCacheTTL parses and returns the PredictionCacheTTL as a time.Duration.
func (c *TuningConfig) GetPredictionCacheTTL() time.Duration {
	if c.PredictionCacheTTL == nil || *c.PredictionCacheTTL == "" {
		return 300 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PredictionCacheTTL)
	if err != nil {
		return 300 * time.Second // default on parse error
	}
	return d
}

// GetPredictionCacheCapacity returns the prediction_cache_capacity value or the default.
func (c *TuningConfig) GetPredictionCacheCapacity() int {
	if c.PredictionCacheCapacity == nil {
		return 256
	}
	return *c.PredictionCacheCapacity
}

// GetPredictionMinInterval parses and returns the PredictionMinInterval as a time.Duration.
func (c *TuningConfig) GetPredictionMinInterval() time.Duration {
	if c.PredictionMinInterval == nil || *c.PredictionMinInterval == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PredictionMinInterval)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetPredictionTimerInterval parses and returns the PredictionTimerInterval as a time.Duration.
func (c *TuningConfig) GetPredictionTimerInterval() time.Duration {
	if c.PredictionTimerInterval == nil || *c.PredictionTimerInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PredictionTimerInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetLatLonQuantumDegrees returns the lat_lon_quantum_degrees value or the default.
func (c *TuningConfig) GetLatLonQuantumDegrees() float64 {
	if c.LatLonQuantumDegrees == nil {
		return 0.2
	}
	return *c.LatLonQuantumDegrees
}

// GetAltitudeQuantumM returns the altitude_quantum_m value or the default.
func (c *TuningConfig) GetAltitudeQuantumM() float64 {
	if c.AltitudeQuantumM == nil {
		return 500.0
	}
	return *c.AltitudeQuantumM
}

// GetTimeBucket parses and returns the TimeBucket as a time.Duration.
func (c *TuningConfig) GetTimeBucket() time.Duration {
	if c.TimeBucket == nil || *c.TimeBucket == "" {
		return 10 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.TimeBucket)
	if err != nil {
		return 10 * time.Minute // default on parse error
	}
	return d
}

// GetDefaultDescentRateMps returns the default_descent_rate_mps value or the default.
func (c *TuningConfig) GetDefaultDescentRateMps() float64 {
	if c.DefaultDescentRateMps == nil {
		return 5.0
	}
	return *c.DefaultDescentRateMps
}

// GetBurstAltitudeMarginM returns the burst_altitude_margin_m value or the default.
func (c *TuningConfig) GetBurstAltitudeMarginM() float64 {
	if c.BurstAltitudeMarginM == nil {
		return 10.0
	}
	return *c.BurstAltitudeMarginM
}

// GetCheckpointEveryPoints returns the checkpoint_every_points value or the default.
func (c *TuningConfig) GetCheckpointEveryPoints() int {
	if c.CheckpointEveryPoints == nil {
		return 10
	}
	return *c.CheckpointEveryPoints
}
