// Package config holds the engine tuning parameters. The guidance
// heuristics (announcement thresholds, step-advance windows, off-route
// tolerances) were tuned against recorded drive traces; they are loaded
// from JSON rather than baked in so deployments can re-tune without a
// rebuild. Fields omitted from the JSON retain their defaults, so partial
// configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TuningConfig represents the root configuration for engine tuning
// parameters. All fields are optional pointers; the Get* accessors supply
// defaults for anything unset.
type TuningConfig struct {
	// Motion filter params
	PositionProcessNoise  *float64 `json:"position_process_noise,omitempty"`
	PositionMeasureNoise  *float64 `json:"position_measure_noise,omitempty"`
	ScalarProcessNoise    *float64 `json:"scalar_process_noise,omitempty"`
	ScalarMeasureNoise    *float64 `json:"scalar_measure_noise,omitempty"`
	MaxPredictDtSeconds   *float64 `json:"max_predict_dt_seconds,omitempty"`
	HeadingHoldBelowMPH   *float64 `json:"heading_hold_below_mph,omitempty"`
	HeadingMaxStepDegrees *float64 `json:"heading_max_step_degrees,omitempty"`

	// Guidance params
	TickIntervalMillis    *int     `json:"tick_interval_millis,omitempty"`
	AnnounceMileMeters    *float64 `json:"announce_mile_meters,omitempty"`
	Announce400FtMeters   *float64 `json:"announce_400ft_meters,omitempty"`
	AnnounceNowMeters     *float64 `json:"announce_now_meters,omitempty"`
	NearTurnMeters        *float64 `json:"near_turn_meters,omitempty"`
	PassWindowMeters      *float64 `json:"pass_window_meters,omitempty"`
	PassJitterCount       *int     `json:"pass_jitter_count,omitempty"`
	NotifyCooldownSeconds *int     `json:"notify_cooldown_seconds,omitempty"`

	// Off-route params
	OffRouteHighSpeedMPH   *float64 `json:"offroute_high_speed_mph,omitempty"`
	OffRouteHighMeters     *float64 `json:"offroute_high_meters,omitempty"`
	OffRouteLowMeters      *float64 `json:"offroute_low_meters,omitempty"`
	OffRouteStrikes        *int     `json:"offroute_strikes,omitempty"`
	RerouteCooldownSeconds *int     `json:"reroute_cooldown_seconds,omitempty"`

	// Fuel params
	DrainFloorMiles        *float64 `json:"drain_floor_miles,omitempty"`
	MPGClampMin            *float64 `json:"mpg_clamp_min,omitempty"`
	MPGClampEPAFactor      *float64 `json:"mpg_clamp_epa_factor,omitempty"`
	LowFuelFirstMiles      *float64 `json:"low_fuel_first_miles,omitempty"`
	LowFuelSecondMiles     *float64 `json:"low_fuel_second_miles,omitempty"`
	LowFuelCooldownMinutes *int     `json:"low_fuel_cooldown_minutes,omitempty"`
	PartialFillAdviceCount *int     `json:"partial_fill_advice_count,omitempty"`

	// Hazard params
	HazardMergeMeters     *float64 `json:"hazard_merge_meters,omitempty"`
	HazardPromptInMeters  *float64 `json:"hazard_prompt_in_meters,omitempty"`
	HazardPromptOutMeters *float64 `json:"hazard_prompt_out_meters,omitempty"`
	HazardTTLMinutes      *int     `json:"hazard_ttl_minutes,omitempty"`
	HazardDenyLimit       *int     `json:"hazard_deny_limit,omitempty"`
}

// Default returns a TuningConfig with all fields unset; every accessor
// falls back to its built-in default.
func Default() *TuningConfig {
	return &TuningConfig{}
}

// Load reads a TuningConfig from a JSON file. The path must end in .json
// and the file is size-capped for safety.
func Load(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field sanity of any values that were set.
func (c *TuningConfig) Validate() error {
	if c.TickIntervalMillis != nil && *c.TickIntervalMillis <= 0 {
		return fmt.Errorf("tick_interval_millis must be positive, got %d", *c.TickIntervalMillis)
	}
	if c.PassJitterCount != nil && *c.PassJitterCount < 1 {
		return fmt.Errorf("pass_jitter_count must be at least 1, got %d", *c.PassJitterCount)
	}
	if c.OffRouteStrikes != nil && *c.OffRouteStrikes < 1 {
		return fmt.Errorf("offroute_strikes must be at least 1, got %d", *c.OffRouteStrikes)
	}
	if c.HazardDenyLimit != nil && *c.HazardDenyLimit < 1 {
		return fmt.Errorf("hazard_deny_limit must be at least 1, got %d", *c.HazardDenyLimit)
	}
	if c.NearTurnMeters != nil && c.PassWindowMeters != nil && *c.NearTurnMeters > *c.PassWindowMeters {
		return fmt.Errorf("near_turn_meters (%f) must not exceed pass_window_meters (%f)",
			*c.NearTurnMeters, *c.PassWindowMeters)
	}
	if c.OffRouteLowMeters != nil && c.OffRouteHighMeters != nil && *c.OffRouteLowMeters > *c.OffRouteHighMeters {
		return fmt.Errorf("offroute_low_meters (%f) must not exceed offroute_high_meters (%f)",
			*c.OffRouteLowMeters, *c.OffRouteHighMeters)
	}
	if c.LowFuelSecondMiles != nil && c.LowFuelFirstMiles != nil && *c.LowFuelSecondMiles > *c.LowFuelFirstMiles {
		return fmt.Errorf("low_fuel_second_miles (%f) must not exceed low_fuel_first_miles (%f)",
			*c.LowFuelSecondMiles, *c.LowFuelFirstMiles)
	}
	if c.HazardPromptInMeters != nil && c.HazardPromptOutMeters != nil && *c.HazardPromptInMeters > *c.HazardPromptOutMeters {
		return fmt.Errorf("hazard_prompt_in_meters (%f) must not exceed hazard_prompt_out_meters (%f)",
			*c.HazardPromptInMeters, *c.HazardPromptOutMeters)
	}
	return nil
}

func getF(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

func getI(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// Motion filter accessors

func (c *TuningConfig) GetPositionProcessNoise() float64 { return getF(c.PositionProcessNoise, 0.5) }
func (c *TuningConfig) GetPositionMeasureNoise() float64 { return getF(c.PositionMeasureNoise, 8.0) }
func (c *TuningConfig) GetScalarProcessNoise() float64   { return getF(c.ScalarProcessNoise, 0.01) }
func (c *TuningConfig) GetScalarMeasureNoise() float64   { return getF(c.ScalarMeasureNoise, 1.0) }
func (c *TuningConfig) GetMaxPredictDtSeconds() float64  { return getF(c.MaxPredictDtSeconds, 10.0) }
func (c *TuningConfig) GetHeadingHoldBelowMPH() float64  { return getF(c.HeadingHoldBelowMPH, 8.0) }
func (c *TuningConfig) GetHeadingMaxStepDegrees() float64 {
	return getF(c.HeadingMaxStepDegrees, 20.0)
}

// Guidance accessors

func (c *TuningConfig) GetTickIntervalMillis() int     { return getI(c.TickIntervalMillis, 1500) }
func (c *TuningConfig) GetAnnounceMileMeters() float64 { return getF(c.AnnounceMileMeters, 1609) }
func (c *TuningConfig) GetAnnounce400FtMeters() float64 {
	return getF(c.Announce400FtMeters, 122)
}
func (c *TuningConfig) GetAnnounceNowMeters() float64 { return getF(c.AnnounceNowMeters, 24) }
func (c *TuningConfig) GetNearTurnMeters() float64    { return getF(c.NearTurnMeters, 40) }
func (c *TuningConfig) GetPassWindowMeters() float64  { return getF(c.PassWindowMeters, 60) }
func (c *TuningConfig) GetPassJitterCount() int       { return getI(c.PassJitterCount, 2) }
func (c *TuningConfig) GetNotifyCooldownSeconds() int { return getI(c.NotifyCooldownSeconds, 45) }

// Off-route accessors

func (c *TuningConfig) GetOffRouteHighSpeedMPH() float64 { return getF(c.OffRouteHighSpeedMPH, 35) }
func (c *TuningConfig) GetOffRouteHighMeters() float64   { return getF(c.OffRouteHighMeters, 120) }
func (c *TuningConfig) GetOffRouteLowMeters() float64    { return getF(c.OffRouteLowMeters, 70) }
func (c *TuningConfig) GetOffRouteStrikes() int          { return getI(c.OffRouteStrikes, 2) }
func (c *TuningConfig) GetRerouteCooldownSeconds() int   { return getI(c.RerouteCooldownSeconds, 30) }

// Fuel accessors

func (c *TuningConfig) GetDrainFloorMiles() float64    { return getF(c.DrainFloorMiles, 0.01) }
func (c *TuningConfig) GetMPGClampMin() float64        { return getF(c.MPGClampMin, 3.0) }
func (c *TuningConfig) GetMPGClampEPAFactor() float64  { return getF(c.MPGClampEPAFactor, 2.0) }
func (c *TuningConfig) GetLowFuelFirstMiles() float64  { return getF(c.LowFuelFirstMiles, 100) }
func (c *TuningConfig) GetLowFuelSecondMiles() float64 { return getF(c.LowFuelSecondMiles, 50) }
func (c *TuningConfig) GetLowFuelCooldownMinutes() int { return getI(c.LowFuelCooldownMinutes, 15) }
func (c *TuningConfig) GetPartialFillAdviceCount() int { return getI(c.PartialFillAdviceCount, 3) }

// Hazard accessors

func (c *TuningConfig) GetHazardMergeMeters() float64     { return getF(c.HazardMergeMeters, 50) }
func (c *TuningConfig) GetHazardPromptInMeters() float64  { return getF(c.HazardPromptInMeters, 50) }
func (c *TuningConfig) GetHazardPromptOutMeters() float64 { return getF(c.HazardPromptOutMeters, 80) }
func (c *TuningConfig) GetHazardTTLMinutes() int          { return getI(c.HazardTTLMinutes, 60) }
func (c *TuningConfig) GetHazardDenyLimit() int           { return getI(c.HazardDenyLimit, 2) }
