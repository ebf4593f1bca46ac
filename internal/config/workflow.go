package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/threshold"
	"github.com/banshee-data/cellflow/internal/tracking"
)

// EnvPrefix prefixes environment variables that override file values,
// e.g. CELLFLOW_HIGH_THRESHOLD=0.6.
const EnvPrefix = "CELLFLOW"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// DefaultChannel is the prediction-map channel the workflow thresholds.
const DefaultChannel = 1

// WorkflowConfig holds the per-lane parameters of the tracking workflow.
// Every field is optional; the Get* methods fall back to the defaults of
// the stage that consumes the value.
type WorkflowConfig struct {
	// Data selection
	AllowLabels *bool `json:"allow_labels,omitempty" mapstructure:"allow_labels"`

	// Threshold params
	Channel       *int     `json:"channel,omitempty" mapstructure:"channel"`
	SmootherSigma *float64 `json:"smoother_sigma,omitempty" mapstructure:"smoother_sigma"`
	HighThreshold *float64 `json:"high_threshold,omitempty" mapstructure:"high_threshold"`
	LowThreshold  *float64 `json:"low_threshold,omitempty" mapstructure:"low_threshold"`
	MinSize       *int     `json:"min_size,omitempty" mapstructure:"min_size"`
	MaxSize       *int     `json:"max_size,omitempty" mapstructure:"max_size"`

	// Feature selections, group -> feature names
	Features         objectextraction.Selection `json:"features,omitempty" mapstructure:"features"`
	DivisionFeatures objectextraction.Selection `json:"division_features,omitempty" mapstructure:"division_features"`
	CellFeatures     objectextraction.Selection `json:"cell_features,omitempty" mapstructure:"cell_features"`

	// Tracker params
	MaxDistance        *float64 `json:"max_distance,omitempty" mapstructure:"max_distance"`
	DivisionThreshold  *float64 `json:"division_threshold,omitempty" mapstructure:"division_threshold"`
	DetectionThreshold *float64 `json:"detection_threshold,omitempty" mapstructure:"detection_threshold"`

	// Runtime
	Workers        *int `json:"workers,omitempty" mapstructure:"workers"`
	CacheMaxBlocks *int `json:"cache_max_blocks,omitempty" mapstructure:"cache_max_blocks"`
}

// scalarKeys are the keys environment variables may override.
var scalarKeys = []string{
	"allow_labels",
	"channel", "smoother_sigma", "high_threshold", "low_threshold", "min_size", "max_size",
	"max_distance", "division_threshold", "detection_threshold",
	"workers", "cache_max_blocks",
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyWorkflowConfig returns a WorkflowConfig with all fields unset.
func EmptyWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{}
}

// DefaultWorkflowConfig returns a WorkflowConfig with every field set to
// its default.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		AllowLabels:        ptrBool(true),
		Channel:            ptrInt(DefaultChannel),
		SmootherSigma:      ptrFloat64(threshold.DefaultSmootherSigma),
		HighThreshold:      ptrFloat64(threshold.DefaultHighThreshold),
		LowThreshold:       ptrFloat64(threshold.DefaultLowThreshold),
		MinSize:            ptrInt(threshold.DefaultMinSize),
		MaxSize:            ptrInt(threshold.DefaultMaxSize),
		Features:           objectextraction.DefaultFeatures(),
		DivisionFeatures:   objectextraction.DivisionDetectionFeatures(),
		CellFeatures:       objectextraction.CellClassificationFeatures(),
		MaxDistance:        ptrFloat64(tracking.DefaultMaxDistance),
		DivisionThreshold:  ptrFloat64(tracking.DefaultDivisionThreshold),
		DetectionThreshold: ptrFloat64(tracking.DefaultDetectionThreshold),
		Workers:            ptrInt(0),
		CacheMaxBlocks:     ptrInt(0),
	}
}

// LoadWorkflowConfig reads a WorkflowConfig from a JSON file on fsys.
// The file must have a .json extension and be at most 1MB. Environment
// variables prefixed with CELLFLOW_ override scalar keys whether or not
// the file sets them.
func LoadWorkflowConfig(fsys fsutil.FileSystem, path string) (*WorkflowConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Group names are case sensitive, so the file is parsed as JSON and
	// viper only layers the environment on top.
	cfg := EmptyWorkflowConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return overlayEnv(cfg)
}

// FromEnv builds a WorkflowConfig from CELLFLOW_ environment variables
// alone, for runs without a config file.
func FromEnv() (*WorkflowConfig, error) {
	return overlayEnv(EmptyWorkflowConfig())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range scalarKeys {
		// BindEnv only fails without a key.
		_ = v.BindEnv(k)
	}
	return v
}

// overlayEnv decodes the set environment variables over cfg; fields
// without a variable keep their value.
func overlayEnv(cfg *WorkflowConfig) (*WorkflowConfig, error) {
	if err := newViper().Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *WorkflowConfig) Validate() error {
	if c.Channel != nil && *c.Channel < 0 {
		return fmt.Errorf("channel must be non-negative, got %d", *c.Channel)
	}
	if c.SmootherSigma != nil && *c.SmootherSigma < 0 {
		return fmt.Errorf("smoother_sigma must be non-negative, got %f", *c.SmootherSigma)
	}
	if lo, hi := c.GetLowThreshold(), c.GetHighThreshold(); lo > hi {
		return fmt.Errorf("low_threshold %f above high_threshold %f", lo, hi)
	}
	if lo, hi := c.GetMinSize(), c.GetMaxSize(); lo < 0 || hi < lo {
		return fmt.Errorf("size range [%d, %d] is empty", lo, hi)
	}
	for name, sel := range map[string]objectextraction.Selection{
		"features":          c.Features,
		"division_features": c.DivisionFeatures,
		"cell_features":     c.CellFeatures,
	} {
		if sel == nil {
			continue
		}
		if err := sel.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, ok := c.Features[objectextraction.DivisionGroup]; ok {
		return fmt.Errorf("features: %q is always computed and cannot be selected", objectextraction.DivisionGroup)
	}
	if c.MaxDistance != nil && *c.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive, got %f", *c.MaxDistance)
	}
	for name, p := range map[string]*float64{
		"division_threshold":  c.DivisionThreshold,
		"detection_threshold": c.DetectionThreshold,
	} {
		if p != nil && (*p < 0 || *p > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *p)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.CacheMaxBlocks != nil && *c.CacheMaxBlocks < 0 {
		return fmt.Errorf("cache_max_blocks must be non-negative, got %d", *c.CacheMaxBlocks)
	}
	return nil
}

// GetAllowLabels returns the allow_labels value or the default.
func (c *WorkflowConfig) GetAllowLabels() bool {
	if c.AllowLabels == nil {
		return true
	}
	return *c.AllowLabels
}

// GetChannel returns the channel value or the default.
func (c *WorkflowConfig) GetChannel() int {
	if c.Channel == nil {
		return DefaultChannel
	}
	return *c.Channel
}

// GetSmootherSigma returns the smoother_sigma value or the default.
func (c *WorkflowConfig) GetSmootherSigma() float64 {
	if c.SmootherSigma == nil {
		return threshold.DefaultSmootherSigma
	}
	return *c.SmootherSigma
}

// GetHighThreshold returns the high_threshold value or the default.
func (c *WorkflowConfig) GetHighThreshold() float64 {
	if c.HighThreshold == nil {
		return threshold.DefaultHighThreshold
	}
	return *c.HighThreshold
}

// GetLowThreshold returns the low_threshold value or the default.
func (c *WorkflowConfig) GetLowThreshold() float64 {
	if c.LowThreshold == nil {
		return threshold.DefaultLowThreshold
	}
	return *c.LowThreshold
}

// GetMinSize returns the min_size value or the default.
func (c *WorkflowConfig) GetMinSize() int {
	if c.MinSize == nil {
		return threshold.DefaultMinSize
	}
	return *c.MinSize
}

// GetMaxSize returns the max_size value or the default.
func (c *WorkflowConfig) GetMaxSize() int {
	if c.MaxSize == nil {
		return threshold.DefaultMaxSize
	}
	return *c.MaxSize
}

// GetFeatures returns the standard feature selection or all standard
// features.
func (c *WorkflowConfig) GetFeatures() objectextraction.Selection {
	if c.Features == nil {
		return objectextraction.DefaultFeatures()
	}
	return c.Features
}

// GetDivisionFeatures returns the division classifier's selection or the
// division features.
func (c *WorkflowConfig) GetDivisionFeatures() objectextraction.Selection {
	if c.DivisionFeatures == nil {
		return objectextraction.DivisionDetectionFeatures()
	}
	return c.DivisionFeatures
}

// GetCellFeatures returns the cell classifier's selection or its default.
func (c *WorkflowConfig) GetCellFeatures() objectextraction.Selection {
	if c.CellFeatures == nil {
		return objectextraction.CellClassificationFeatures()
	}
	return c.CellFeatures
}

// GetMaxDistance returns the max_distance value or the default.
func (c *WorkflowConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return tracking.DefaultMaxDistance
	}
	return *c.MaxDistance
}

// GetDivisionThreshold returns the division_threshold value or the default.
func (c *WorkflowConfig) GetDivisionThreshold() float64 {
	if c.DivisionThreshold == nil {
		return tracking.DefaultDivisionThreshold
	}
	return *c.DivisionThreshold
}

// GetDetectionThreshold returns the detection_threshold value or the default.
func (c *WorkflowConfig) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return tracking.DefaultDetectionThreshold
	}
	return *c.DetectionThreshold
}

// GetWorkers returns the request worker limit; 0 keeps the graph default.
func (c *WorkflowConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetCacheMaxBlocks returns the per-cache block limit; 0 keeps the cache
// default.
func (c *WorkflowConfig) GetCacheMaxBlocks() int {
	if c.CacheMaxBlocks == nil {
		return 0
	}
	return *c.CacheMaxBlocks
}
