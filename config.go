package serialbridge

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for a bridge process.
//
//	tick_rate: 60
//	log_level: info
//	ports:
//	  - name: /dev/ttyUSB0
//	    baud_rate: 115200
//	    parity: none
//	    stop_bits: 1
//	    flow_control: none
//	    read_timeout: 10ms
type Config struct {
	TickRate int
	LogLevel zerolog.Level
	Ports    []LineSettings
}

type fileConfig struct {
	TickRate int          `yaml:"tick_rate"`
	LogLevel string       `yaml:"log_level"`
	Ports    []filePortCfg `yaml:"ports"`
}

type filePortCfg struct {
	Name        string `yaml:"name"`
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    string `yaml:"data_bits"`
	Parity      string `yaml:"parity"`
	StopBits    string `yaml:"stop_bits"`
	FlowControl string `yaml:"flow_control"`
	ReadTimeout string `yaml:"read_timeout"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML config. Omitted port fields take the
// DefaultLineSettings values; an omitted tick rate is DefaultTickRate.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := &Config{TickRate: fc.TickRate, LogLevel: zerolog.InfoLevel}
	if cfg.TickRate == 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.TickRate < 0 {
		return nil, fmt.Errorf("tick rate cannot be negative: %d", cfg.TickRate)
	}
	if fc.LogLevel != "" {
		lvl, err := zerolog.ParseLevel(fc.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", fc.LogLevel, err)
		}
		cfg.LogLevel = lvl
	}

	seen := make(map[string]bool, len(fc.Ports))
	for i, p := range fc.Ports {
		s, err := p.settings()
		if err != nil {
			return nil, fmt.Errorf("port %d: %w", i, err)
		}
		if err = ValidateSettings(s); err != nil {
			return nil, fmt.Errorf("port %d: %w", i, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("port %d: duplicate port name %q", i, s.Name)
		}
		seen[s.Name] = true
		cfg.Ports = append(cfg.Ports, s)
	}
	return cfg, nil
}

func (p filePortCfg) settings() (LineSettings, error) {
	baud := p.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate.Int()
	}
	s := DefaultLineSettings(p.Name, baud)

	var err error
	if p.DataBits != "" {
		if s.DataBits, err = ParseDataBits(p.DataBits); err != nil {
			return s, err
		}
	}
	if s.Parity, err = ParseParity(p.Parity); err != nil {
		return s, err
	}
	if s.StopBits, err = ParseStopBits(p.StopBits); err != nil {
		return s, err
	}
	if s.FlowControl, err = ParseFlowControl(p.FlowControl); err != nil {
		return s, err
	}
	if p.ReadTimeout != "" {
		if s.ReadTimeout, err = time.ParseDuration(p.ReadTimeout); err != nil {
			return s, fmt.Errorf("invalid read timeout %q: %w", p.ReadTimeout, err)
		}
	}
	return s, nil
}
