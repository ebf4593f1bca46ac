package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cellflow/internal/fsutil"
	"github.com/banshee-data/cellflow/internal/objectextraction"
	"github.com/banshee-data/cellflow/internal/threshold"
	"github.com/banshee-data/cellflow/internal/tracking"
)

func memConfig(t *testing.T, name, body string) fsutil.FileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile(name, []byte(body), 0o644))
	return fsys
}

func TestWorkflowConfigDefaults(t *testing.T) {
	t.Parallel()

	empty := EmptyWorkflowConfig()
	def := DefaultWorkflowConfig()
	require.NoError(t, def.Validate())

	for _, cfg := range []*WorkflowConfig{empty, def} {
		assert.True(t, cfg.GetAllowLabels())
		assert.Equal(t, DefaultChannel, cfg.GetChannel())
		assert.Equal(t, threshold.DefaultSmootherSigma, cfg.GetSmootherSigma())
		assert.Equal(t, threshold.DefaultHighThreshold, cfg.GetHighThreshold())
		assert.Equal(t, threshold.DefaultLowThreshold, cfg.GetLowThreshold())
		assert.Equal(t, threshold.DefaultMinSize, cfg.GetMinSize())
		assert.Equal(t, threshold.DefaultMaxSize, cfg.GetMaxSize())
		assert.Equal(t, tracking.DefaultMaxDistance, cfg.GetMaxDistance())
		assert.Equal(t, tracking.DefaultDivisionThreshold, cfg.GetDivisionThreshold())
		assert.Equal(t, tracking.DefaultDetectionThreshold, cfg.GetDetectionThreshold())
		assert.Equal(t, 0, cfg.GetWorkers())
		assert.Equal(t, 0, cfg.GetCacheMaxBlocks())
		if diff := cmp.Diff(objectextraction.DefaultFeatures(), cfg.GetFeatures()); diff != "" {
			t.Errorf("features mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(objectextraction.DivisionDetectionFeatures(), cfg.GetDivisionFeatures()); diff != "" {
			t.Errorf("division features mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(objectextraction.CellClassificationFeatures(), cfg.GetCellFeatures()); diff != "" {
			t.Errorf("cell features mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestLoadWorkflowConfig(t *testing.T) {
	t.Parallel()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		t.Parallel()
		fsys := memConfig(t, "cfg/run.json", `{
  "high_threshold": 0.7,
  "min_size": 4,
  "allow_labels": false,
  "cell_features": {"Standard Object Features": ["Count"]}
}`)
		cfg, err := LoadWorkflowConfig(fsys, "cfg/run.json")
		require.NoError(t, err)
		assert.Equal(t, 0.7, cfg.GetHighThreshold())
		assert.Equal(t, 4, cfg.GetMinSize())
		assert.False(t, cfg.GetAllowLabels())
		assert.Equal(t, threshold.DefaultLowThreshold, cfg.GetLowThreshold())
		assert.Nil(t, cfg.Channel)
		want := objectextraction.Selection{objectextraction.StandardGroup: {objectextraction.FeatureCount}}
		if diff := cmp.Diff(want, cfg.GetCellFeatures()); diff != "" {
			t.Errorf("cell features mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("wrong extension", func(t *testing.T) {
		t.Parallel()
		fsys := memConfig(t, "run.yaml", `{}`)
		_, err := LoadWorkflowConfig(fsys, "run.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json extension")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadWorkflowConfig(fsutil.NewMemoryFileSystem(), "absent.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stat")
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		body := `{"channel": 1` + strings.Repeat(" ", maxFileSize) + `}`
		fsys := memConfig(t, "big.json", body)
		_, err := LoadWorkflowConfig(fsys, "big.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		fsys := memConfig(t, "bad.json", `{"channel": }`)
		_, err := LoadWorkflowConfig(fsys, "bad.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		fsys := memConfig(t, "bad.json", `{"low_threshold": 0.9, "high_threshold": 0.3}`)
		_, err := LoadWorkflowConfig(fsys, "bad.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

// Environment tests cannot run in parallel.
func TestLoadWorkflowConfigEnvOverride(t *testing.T) {
	t.Setenv("CELLFLOW_HIGH_THRESHOLD", "0.65")
	t.Setenv("CELLFLOW_MAX_DISTANCE", "12.5")
	t.Setenv("CELLFLOW_ALLOW_LABELS", "false")

	fsys := memConfig(t, "run.json", `{"high_threshold": 0.9, "min_size": 3}`)
	cfg, err := LoadWorkflowConfig(fsys, "run.json")
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.GetHighThreshold())
	assert.Equal(t, 12.5, cfg.GetMaxDistance())
	assert.False(t, cfg.GetAllowLabels())
	assert.Equal(t, 3, cfg.GetMinSize())

	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.GetHighThreshold())
	assert.Nil(t, cfg.MinSize)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("CELLFLOW_DETECTION_THRESHOLD", "1.5")
	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection_threshold")
}

func TestWorkflowConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *WorkflowConfig
		wantErr string
	}{
		{"empty", EmptyWorkflowConfig(), ""},
		{"negative channel", &WorkflowConfig{Channel: ptrInt(-1)}, "channel"},
		{"negative sigma", &WorkflowConfig{SmootherSigma: ptrFloat64(-0.5)}, "smoother_sigma"},
		{"low above default high", &WorkflowConfig{LowThreshold: ptrFloat64(0.8)}, "low_threshold"},
		{"empty size range", &WorkflowConfig{MinSize: ptrInt(50), MaxSize: ptrInt(10)}, "size range"},
		{"unknown feature", &WorkflowConfig{Features: objectextraction.Selection{objectextraction.StandardGroup: {"Kurtosis"}}}, "Kurtosis"},
		{"division group selected", &WorkflowConfig{Features: objectextraction.DivisionDetectionFeatures()}, "always computed"},
		{"zero max distance", &WorkflowConfig{MaxDistance: ptrFloat64(0)}, "max_distance"},
		{"division threshold above one", &WorkflowConfig{DivisionThreshold: ptrFloat64(1.2)}, "division_threshold"},
		{"negative workers", &WorkflowConfig{Workers: ptrInt(-2)}, "workers"},
		{"negative cache blocks", &WorkflowConfig{CacheMaxBlocks: ptrInt(-1)}, "cache_max_blocks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
