package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Pool struct {
		DefaultMaxConcurrent int32 `json:"default_max_concurrent"`
		LeaseTimer           Timer `json:"lease_timer"`
	} `json:"pool"`

	Quarantine struct {
		FailureThreshold uint32 `json:"failure_threshold"`
		TTLTimer         Timer  `json:"ttl_timer"`
	} `json:"quarantine"`

	Checker struct {
		Threads          uint32   `json:"threads"`
		Timeout          uint32   `json:"timeout"` // milliseconds per probe
		ActiveTimer      Timer    `json:"active_timer"`
		QuarantineTimer  Timer    `json:"quarantine_timer"`
		BackoffCapTimer  Timer    `json:"backoff_cap_timer"`
		JudgeURL         string   `json:"judge_url"`
		IPLookupURL      string   `json:"ip_lookup_url"`
		ProxyHeader      []string `json:"proxy_header"`
		UseHttpsForSocks bool     `json:"use_https_for_socks"`
	} `json:"checker"`

	Registry struct {
		Persist      bool  `json:"persist"`
		RetryBackoff Timer `json:"retry_backoff"`
	} `json:"registry"`

	Events struct {
		Buffer int `json:"buffer"`
	} `json:"events"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	currentIp   atomic.Value
	configMu    sync.Mutex
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic("config: invalid embedded default settings: " + err.Error())
	}
	configValue.Store(cfg)
	currentIp.Store("")
}

func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file", "error", err)
				return
			}

			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file", "error", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file", "error", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, false); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully")
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, true); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return
	}

	log.Debug("Configuration updated and written to file")
}

// SetConfigForTests swaps the active configuration without touching disk.
func SetConfigForTests(newConfig Config) {
	_ = applyConfigUpdate(newConfig, false)
}

func applyConfigUpdate(newConfig Config, persistToFile bool) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	refreshIntervals()

	var errs []error

	if persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration", "error", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath, data, os.ModePerm); err != nil {
			log.Error("Error writing new configuration to file", "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// GetCurrentIp returns the egress IP of this instance, used by the anonymity
// check to spot transparent proxies.
func GetCurrentIp() string {
	return currentIp.Load().(string)
}

func SetCurrentIp(ip string) {
	currentIp.Store(ip)
}
