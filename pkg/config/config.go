// Package config loads the board's YAML configuration file and fills
// in defaults for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Station StationConfig `yaml:"station"`
	Matrix  MatrixConfig  `yaml:"matrix"`
	Display DisplayConfig `yaml:"display"`
	Status  StatusConfig  `yaml:"status"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	// ReasonCodesURL may be empty, in which case delay and
	// cancellation reasons stay undecoded.
	ReasonCodesURL string        `yaml:"reason_codes_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	DebugDumpTo    string        `yaml:"debug_dump_to"`
}

type StationConfig struct {
	CRS      string `yaml:"crs"`
	Platform string `yaml:"platform"`
	// MaxServices bounds how many services one snapshot may carry.
	MaxServices int `yaml:"max_services"`
}

type MatrixConfig struct {
	Rows       int    `yaml:"rows"`
	Cols       int    `yaml:"cols"`
	Chained    int    `yaml:"chained"`
	Brightness int    `yaml:"brightness"`
	Mapping    string `yaml:"hardware_mapping"`
	FontPath   string `yaml:"font_path"`
}

type DisplayConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ScrollDelay     time.Duration `yaml:"scroll_delay"`

	// Each alternating row flips on its own timer.
	ETDToggleInterval time.Duration `yaml:"etd_toggle_interval"`
	ThirdRowInterval  time.Duration `yaml:"third_row_interval"`
	MessageInterval   time.Duration `yaml:"message_interval"`

	ShowMessages  bool `yaml:"show_messages"`
	ShowCallingAt bool `yaml:"show_calling_at"`
	SlideThirdRow bool `yaml:"slide_third_row"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "https://api1.raildata.org.uk/1010-live-departure-board-dep1_2/LDBWS/api/20220120",
			ReasonCodesURL: "https://api1.raildata.org.uk/1010-reason-code-rei/LDBSVWS/api/ref/20211101/GetReasonCodeList",
			Timeout:        10 * time.Second,
			MaxRetries:     3,
		},
		Station: StationConfig{
			CRS:         "NLS",
			MaxServices: 25,
		},
		Matrix: MatrixConfig{
			Rows:       64,
			Cols:       64,
			Chained:    2,
			Brightness: 50,
			Mapping:    "adafruit-hat",
		},
		Display: DisplayConfig{
			RefreshInterval:   time.Minute,
			ScrollDelay:       30 * time.Millisecond,
			ETDToggleInterval: 3 * time.Second,
			ThirdRowInterval:  4 * time.Second,
			MessageInterval:   6 * time.Second,
			ShowMessages:      true,
			ShowCallingAt:     true,
		},
		Status: StatusConfig{
			Listen: ":8090",
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns
// the defaults untouched so the board can run from flags and env
// alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		applyEnv(&cfg)
		return cfg, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

// applyEnv lets the deployment override the secrets without writing
// them into the config file.
func applyEnv(cfg *Config) {
	if key := os.Getenv("RAILBOARD_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if crs := os.Getenv("RAILBOARD_CRS"); crs != "" {
		cfg.Station.CRS = crs
	}
}

func (c Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if len(c.Station.CRS) != 3 {
		return fmt.Errorf("config: station.crs must be a three letter code, got %q", c.Station.CRS)
	}
	if c.Station.MaxServices <= 0 {
		return fmt.Errorf("config: station.max_services must be positive")
	}
	if c.Matrix.Rows <= 0 || c.Matrix.Cols <= 0 {
		return fmt.Errorf("config: matrix dimensions must be positive")
	}
	if c.Matrix.Brightness < 1 || c.Matrix.Brightness > 100 {
		return fmt.Errorf("config: matrix.brightness must be within 1-100")
	}
	if c.Display.RefreshInterval <= 0 || c.Display.ScrollDelay <= 0 {
		return fmt.Errorf("config: display intervals must be positive")
	}
	if c.Display.ETDToggleInterval <= 0 || c.Display.ThirdRowInterval <= 0 || c.Display.MessageInterval <= 0 {
		return fmt.Errorf("config: display row intervals must be positive")
	}
	return nil
}
