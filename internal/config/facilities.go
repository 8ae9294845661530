package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FacilityConfig represents a single facility entry in facilities.yaml.
type FacilityConfig struct {
	Key         string `yaml:"key"` // stable seed key, e.g. "lab-b2"
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Location    string `yaml:"location"`
	Type        string `yaml:"type"`
	Capacity    int    `yaml:"capacity"`
	Amenities   string `yaml:"amenities,omitempty"`
	OpeningTime string `yaml:"opening_time,omitempty"` // "08:00"
	ClosingTime string `yaml:"closing_time,omitempty"` // "20:00"
}

// FacilityDefaults holds values applied to facilities that omit them.
type FacilityDefaults struct {
	OpeningTime string `yaml:"opening_time"`
	ClosingTime string `yaml:"closing_time"`
	Type        string `yaml:"type"`
}

// FacilitiesConfig is the root configuration for facilities.yaml.
type FacilitiesConfig struct {
	Facilities []FacilityConfig `yaml:"facilities"`
	Defaults   FacilityDefaults `yaml:"defaults"`
}

var facilityTypes = map[string]bool{
	"CLASSROOM":  true,
	"LAB":        true,
	"AUDITORIUM": true,
	"LIBRARY":    true,
	"SPORTS":     true,
	"OTHER":      true,
}

// LoadFacilitiesConfig loads and validates facilities configuration from YAML file.
func LoadFacilitiesConfig(path string) (*FacilitiesConfig, error) {
	if path == "" {
		path = "configs/facilities.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facilities config: %w", err)
	}
	return parseFacilitiesConfig(data)
}

func parseFacilitiesConfig(data []byte) (*FacilitiesConfig, error) {
	var cfg FacilitiesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse facilities config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate facilities config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *FacilitiesConfig) Validate() error {
	if len(c.Facilities) == 0 {
		return fmt.Errorf("no facilities defined")
	}

	keys := make(map[string]bool)
	names := make(map[string]bool)

	for i, f := range c.Facilities {
		if f.Key == "" {
			return fmt.Errorf("facility[%d]: key is required", i)
		}
		if keys[f.Key] {
			return fmt.Errorf("facility[%d]: duplicate key '%s'", i, f.Key)
		}
		keys[f.Key] = true

		if f.Name == "" {
			return fmt.Errorf("facility[%d]: name is required", i)
		}
		if names[f.Name] {
			return fmt.Errorf("facility[%d]: duplicate name '%s'", i, f.Name)
		}
		names[f.Name] = true

		if f.Capacity <= 0 {
			return fmt.Errorf("facility[%d]: capacity must be positive, got %d", i, f.Capacity)
		}
		if !facilityTypes[f.Type] {
			return fmt.Errorf("facility[%d]: unknown type '%s'", i, f.Type)
		}

		if err := validateHours(f.OpeningTime, f.ClosingTime, fmt.Sprintf("facility[%d]", i)); err != nil {
			return err
		}
	}

	return nil
}

// validateHours checks an optional opening/closing pair.
func validateHours(opening, closing, prefix string) error {
	if opening == "" && closing == "" {
		return nil
	}
	if opening == "" || closing == "" {
		return fmt.Errorf("%s: opening_time and closing_time must be set together", prefix)
	}

	open, err := time.Parse("15:04", opening)
	if err != nil {
		return fmt.Errorf("%s.opening_time: invalid format '%s', expected HH:MM", prefix, opening)
	}
	closeAt, err := time.Parse("15:04", closing)
	if err != nil {
		return fmt.Errorf("%s.closing_time: invalid format '%s', expected HH:MM", prefix, closing)
	}
	if !closeAt.After(open) {
		return fmt.Errorf("%s: closing_time must be after opening_time", prefix)
	}
	return nil
}

func (c *FacilitiesConfig) applyDefaults() {
	for i := range c.Facilities {
		f := &c.Facilities[i]
		if f.Type == "" {
			f.Type = c.Defaults.Type
		}
		if f.Type == "" {
			f.Type = "OTHER"
		}
		if f.OpeningTime == "" && f.ClosingTime == "" {
			f.OpeningTime = c.Defaults.OpeningTime
			f.ClosingTime = c.Defaults.ClosingTime
		}
	}
}

// GetFacilityByKey returns facility config by seed key.
func (c *FacilitiesConfig) GetFacilityByKey(key string) *FacilityConfig {
	for i := range c.Facilities {
		if c.Facilities[i].Key == key {
			return &c.Facilities[i]
		}
	}
	return nil
}

// String returns a summary of the configuration.
func (c *FacilitiesConfig) String() string {
	return fmt.Sprintf("FacilitiesConfig: %d facilities", len(c.Facilities))
}
