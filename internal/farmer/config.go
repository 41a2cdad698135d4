package farmer

import (
	"encoding/json"
	"fmt"

	"github.com/gardenos/gardend/internal/errdefs"
	"github.com/gardenos/gardend/internal/store"
)

// Settings keys used by the farmer supervisor.
const (
	settingConfig        = "farmer_config"
	settingUpdateChannel = "farmer_update_channel"
	settingStatsDays     = "stats_days_saved"
)

// MetricsConfig controls the farmer's local HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    uint16 `json:"port" yaml:"port"`
}

// HarvesterConfig is the plot-scanning section of the farmer run config.
type HarvesterConfig struct {
	PlotDirectories  []string `json:"plot_directories" yaml:"plot_directories"`
	ParallelRead     bool     `json:"parallel_read" yaml:"parallel_read"`
	PlotSearchDepth  int64    `json:"plot_search_depth" yaml:"plot_search_depth"`
	MaxCPUCores      int32    `json:"max_cpu_cores" yaml:"max_cpu_cores"`
	MaxCudaDevices   int32    `json:"max_cuda_devices" yaml:"max_cuda_devices"`
	MaxOpenCLDevices int32    `json:"max_opencl_devices" yaml:"max_opencl_devices"`
	CudaDeviceList   []uint8  `json:"cuda_device_list" yaml:"cuda_device_list"`
	OpenCLDeviceList []uint8  `json:"opencl_device_list" yaml:"opencl_device_list"`
	RecomputeHost    string   `json:"recompute_host" yaml:"recompute_host"`
	RecomputePort    uint16   `json:"recompute_port" yaml:"recompute_port"`
}

// Config is the farmer run configuration. It is persisted as a JSON blob in
// the settings store and rendered to YAML for the binary.
type Config struct {
	FullnodeWSHost  string          `json:"fullnode_ws_host" yaml:"fullnode_ws_host"`
	FullnodeWSPort  uint16          `json:"fullnode_ws_port" yaml:"fullnode_ws_port"`
	FullnodeRPCHost string          `json:"fullnode_rpc_host" yaml:"fullnode_rpc_host"`
	FullnodeRPCPort uint16          `json:"fullnode_rpc_port" yaml:"fullnode_rpc_port"`
	PayoutAddress   string          `json:"payout_address" yaml:"payout_address"`
	Harvester       HarvesterConfig `json:"harvester" yaml:"harvester"`
	Metrics         *MetricsConfig  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// DefaultConfig points at the public fullnode gateway with metrics enabled.
func DefaultConfig() *Config {
	return &Config{
		FullnodeWSHost:  "druid.garden",
		FullnodeWSPort:  443,
		FullnodeRPCHost: "druid.garden",
		FullnodeRPCPort: 443,
		Harvester: HarvesterConfig{
			PlotDirectories:  []string{"/mnt"},
			ParallelRead:     true,
			PlotSearchDepth:  2,
			MaxCPUCores:      -1,
			MaxCudaDevices:   -1,
			MaxOpenCLDevices: -1,
		},
		Metrics: &MetricsConfig{Enabled: true, Port: 9090},
	}
}

// Ready reports whether the config is complete enough to farm with.
func (c *Config) Ready() bool { return c.PayoutAddress != "" }

// LoadConfig reads the persisted farmer config, falling back to the default
// when no row exists yet.
func LoadConfig(settings store.SettingsStore) (*Config, error) {
	entry, err := settings.GetSetting(settingConfig)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return DefaultConfig(), nil
	}
	var cfg Config
	if err := json.Unmarshal([]byte(entry.Value), &cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, "farmer: parse stored config", err)
	}
	return &cfg, nil
}

// SaveConfig persists the farmer config as a JSON settings row.
func SaveConfig(settings store.SettingsStore, cfg *Config) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, "farmer: encode config", err)
	}
	return settings.PutSetting(store.SettingsEntry{
		Key:      settingConfig,
		Value:    string(b),
		Category: "farmer",
		System:   true,
	})
}

// baseURL derives the farmer's local HTTP endpoint from the persisted
// config's metrics section.
func baseURL(settings store.SettingsStore) (string, error) {
	cfg, err := LoadConfig(settings)
	if err != nil {
		return "", err
	}
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return "", errdefs.New(errdefs.KindInvalidInput, "farmer: metrics disabled in config")
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Metrics.Port), nil
}
