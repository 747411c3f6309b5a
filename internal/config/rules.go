package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDetection returns the built-in detector thresholds, each
// overridable through the environment.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		EventLogCapacity:      getEnvAsInt("EVENT_LOG_CAPACITY", 1000),
		FailedLoginsThreshold: getEnvAsInt("THREAT_FAILED_LOGINS", 5),
		FailedLoginsWindow:    getEnvAsDuration("THREAT_FAILED_LOGINS_WINDOW", 15*time.Minute),
		DataAccessThreshold:   getEnvAsInt("THREAT_DATA_ACCESS", 100),
		DataAccessWindow:      getEnvAsDuration("THREAT_DATA_ACCESS_WINDOW", 60*time.Minute),
		APICallThreshold:      getEnvAsInt("THREAT_API_CALLS", 1000),
		APICallWindow:         getEnvAsDuration("THREAT_API_CALLS_WINDOW", 60*time.Minute),
		MaxLocations:          getEnvAsInt("THREAT_MAX_LOCATIONS", 5),
		LocationWindow:        getEnvAsDuration("THREAT_LOCATION_WINDOW", 24*time.Hour),
		RapidFireThreshold:    getEnvAsInt("THREAT_RAPID_FIRE", 10),
		RapidFireWindow:       getEnvAsDuration("THREAT_RAPID_FIRE_WINDOW", time.Minute),
		InactivityThreshold:   getEnvAsDuration("THREAT_INACTIVITY", 30*time.Minute),
		ScanInterval:          getEnvAsDuration("THREAT_SCAN_INTERVAL", 5*time.Minute),
		PurgeInterval:         getEnvAsDuration("THREAT_PURGE_INTERVAL", time.Hour),
		ThreatRetention:       getEnvAsDuration("THREAT_RETENTION", 7*24*time.Hour),
	}
}

// LoadRules overlays the thresholds found in a YAML file. Keys missing from
// the file keep their current value.
func (d *DetectionConfig) LoadRules(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Key: "DETECTION_RULES_FILE", Reason: err.Error()}
	}

	rulesFile := d.RulesFile
	if err := yaml.Unmarshal(raw, d); err != nil {
		return &ConfigError{Key: "DETECTION_RULES_FILE", Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	d.RulesFile = rulesFile

	return d.validate()
}

func (d DetectionConfig) validate() error {
	positive := map[string]int{
		"event_log_capacity":      d.EventLogCapacity,
		"failed_logins_threshold": d.FailedLoginsThreshold,
		"data_access_threshold":   d.DataAccessThreshold,
		"api_call_threshold":      d.APICallThreshold,
		"max_locations":           d.MaxLocations,
		"rapid_fire_threshold":    d.RapidFireThreshold,
	}
	for key, v := range positive {
		if v < 1 {
			return &ConfigError{Key: key, Reason: "must be at least 1"}
		}
	}

	windows := map[string]time.Duration{
		"failed_logins_window": d.FailedLoginsWindow,
		"data_access_window":   d.DataAccessWindow,
		"api_call_window":      d.APICallWindow,
		"location_window":      d.LocationWindow,
		"rapid_fire_window":    d.RapidFireWindow,
		"inactivity_threshold": d.InactivityThreshold,
		"scan_interval":        d.ScanInterval,
		"purge_interval":       d.PurgeInterval,
		"threat_retention":     d.ThreatRetention,
	}
	for key, v := range windows {
		if v <= 0 {
			return &ConfigError{Key: key, Reason: "must be positive"}
		}
	}

	return nil
}
