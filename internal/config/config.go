package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full capture configuration. Every dwell, interval, timeout
// and bound used by the pipeline lives here; nothing is derived from the
// page's actual animation durations.
type Config struct {
	Version string `yaml:"version"`

	Browser struct {
		DevToolsURL string  `yaml:"devtoolsURL"`
		Width       int     `yaml:"width"`
		Height      int     `yaml:"height"`
		Scale       float64 `yaml:"scale"`
	} `yaml:"browser"`

	Timeouts struct {
		PageLoadMS   int `yaml:"pageLoadMS"`
		SettleMS     int `yaml:"settleMS"`
		EvaluateMS   int `yaml:"evaluateMS"`
		ScrollStepMS int `yaml:"scrollStepMS"`
		ScrollEndMS  int `yaml:"scrollEndMS"`
	} `yaml:"timeouts"`

	Discovery struct {
		Selectors   []string `yaml:"selectors"`
		MaxElements int      `yaml:"maxElements"`
	} `yaml:"discovery"`

	Probes struct {
		HoverDwellMS         int   `yaml:"hoverDwellMS"`
		HoverExitMS          int   `yaml:"hoverExitMS"`
		ClickFrames          int   `yaml:"clickFrames"`
		ClickIntervalMS      int   `yaml:"clickIntervalMS"`
		ContinuousFrames     int   `yaml:"continuousFrames"`
		ContinuousIntervalMS int   `yaml:"continuousIntervalMS"`
		OpeningOffsetsMS     []int `yaml:"openingOffsetsMS"`
	} `yaml:"probes"`

	Run struct {
		OutputDir     string `yaml:"outputDir"`
		Parallelism   int    `yaml:"parallelism"`
		DownloadMedia bool   `yaml:"downloadMedia"`
	} `yaml:"run"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig returns the default configuration. Probe timings mirror the
// capture heuristics the pipeline was tuned with: a 2s hover dwell, five
// click frames at 500ms and twenty continuous frames at 300ms.
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}

	c.Browser.DevToolsURL = "http://127.0.0.1:9222"
	c.Browser.Width = 1920
	c.Browser.Height = 1080
	c.Browser.Scale = 1

	c.Timeouts.PageLoadMS = 30000
	c.Timeouts.SettleMS = 10000
	c.Timeouts.EvaluateMS = 5000
	c.Timeouts.ScrollStepMS = 1000
	c.Timeouts.ScrollEndMS = 3000

	c.Discovery.Selectors = []string{
		".pokemon-card",
		".card",
		".tcg-card",
		".card-item",
		".gallery-item",
		"[class*=\"card\"]",
		"[class*=\"gallery\"]",
		"img[alt*=\"card\" i]",
		"img[src*=\"card\" i]",
		"img",
	}
	c.Discovery.MaxElements = 10

	c.Probes.HoverDwellMS = 2000
	c.Probes.HoverExitMS = 1000
	c.Probes.ClickFrames = 5
	c.Probes.ClickIntervalMS = 500
	c.Probes.ContinuousFrames = 20
	c.Probes.ContinuousIntervalMS = 300
	c.Probes.OpeningOffsetsMS = []int{0, 500, 1000, 1500, 2000, 3000, 4000}

	c.Run.OutputDir = "captures"
	c.Run.Parallelism = 1
	c.Run.DownloadMedia = false

	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "cardmotion.log"

	return c
}

// Load reads a yaml file over the defaults.
func Load(path string) (*Config, error) {
	c := NewConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Browser.DevToolsURL == "" {
		return fmt.Errorf("browser.devtoolsURL is required")
	}
	if c.Discovery.MaxElements <= 0 {
		return fmt.Errorf("discovery.maxElements must be positive")
	}
	if len(c.Discovery.Selectors) == 0 {
		return fmt.Errorf("discovery.selectors must not be empty")
	}
	if c.Probes.ClickFrames <= 0 || c.Probes.ContinuousFrames <= 0 {
		return fmt.Errorf("probe frame counts must be positive")
	}
	if c.Run.Parallelism <= 0 {
		return fmt.Errorf("run.parallelism must be positive")
	}
	return nil
}
