// Package env sets up controller side tools from defaults, environment
// variables, command line flags and an optional YAML file, in increasing
// order of precedence.
package env

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"
)

// Config provides common options to reach a target.
type Config struct {
	// Link specifies how target memory is reached.
	// e.g. tcp://host:3300, ws://host:3301/mem, gdb://host:3333,
	// modbus://host:502/?unit=1&base=0x20000000&register=0
	Link string `yaml:"link"`
	// Command and Response are the region addresses of the first slot.
	Command  Address `yaml:"command"`
	Response Address `yaml:"response"`
	// Slots is the number of channel pairs, each Stride bytes after the previous.
	Slots   int           `yaml:"slots"`
	Stride  Address       `yaml:"stride"`
	Barrier bool          `yaml:"barrier"`
	Timeout time.Duration `yaml:"timeout"`
	// MQTTURL specifies the broker used by bridges.
	// e.g. mqtt://host:1883/corpc/
	MQTTURL string `yaml:"mqtt"`
	// ID names the bridge on the broker.
	ID string `yaml:"id"`
	// Metrics is the listen address of the metrics server, empty to disable.
	Metrics string `yaml:"metrics"`
}

var (
	builtinConfig = Config{
		Link:     "tcp://localhost:3300",
		Command:  0x20000000,
		Response: 0x20000400,
		Slots:    1,
		Stride:   0x800,
		Timeout:  time.Second,
		MQTTURL:  "mqtt://localhost:1883/corpc/",
	}

	// envConfig is builtinConfig with environment variables applied.
	envConfig     Config
	defaultConfig Config
	configFile    string
)

func init() {
	envConfig = FromEnv(builtinConfig, os.Getenv)
	defaultConfig = envConfig
	configFile = os.Getenv("CORPC_CONFIG")
}

// FromEnv overrides fields of base from CORPC_* variables found by getenv.
// Malformed values are logged and ignored.
func FromEnv(base Config, getenv func(string) string) Config {
	conf := base
	if val := getenv("CORPC_LINK"); val != "" {
		conf.Link = val
	}
	for name, addr := range map[string]*Address{
		"CORPC_CMD_ADDR": &conf.Command,
		"CORPC_RSP_ADDR": &conf.Response,
	} {
		if val := getenv(name); val != "" {
			if err := addr.Set(val); err != nil {
				glog.Warningf("env: %s: %v", name, err)
			}
		}
	}
	if val := getenv("CORPC_SLOTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			conf.Slots = n
		} else {
			glog.Warningf("env: CORPC_SLOTS: invalid value %q", val)
		}
	}
	if val := getenv("CORPC_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			conf.Timeout = d
		} else {
			glog.Warningf("env: CORPC_TIMEOUT: %v", err)
		}
	}
	if val := getenv("CORPC_MQTT_URL"); val != "" {
		conf.MQTTURL = val
	}
	if val := getenv("CORPC_ID"); val != "" {
		conf.ID = val
	}
	if val := getenv("CORPC_METRICS"); val != "" {
		conf.Metrics = val
	}
	return conf
}

// AddFlags binds the fields of c to flags on fs.
func (c *Config) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Link, "link", c.Link, "Target memory link URL")
	fs.Var(&c.Command, "cmd-addr", "Command region address")
	fs.Var(&c.Response, "rsp-addr", "Response region address")
	fs.IntVar(&c.Slots, "slots", c.Slots, "Number of channel pairs")
	fs.Var(&c.Stride, "stride", "Distance between consecutive channel pairs")
	fs.BoolVar(&c.Barrier, "barrier", c.Barrier, "Fence around ready word accesses")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Default call timeout")
	fs.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "MQTT broker URL")
	fs.StringVar(&c.ID, "id", c.ID, "Bridge ID")
	fs.StringVar(&c.Metrics, "metrics", c.Metrics, "Metrics listen address")
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	defaultConfig.AddFlags(flag.CommandLine)
	flag.StringVar(&configFile, "config", configFile, "YAML config file")
}

// Default gets the effective config, reading the -config file if one is
// named. It must be called after flag.Parse.
func Default() (*Config, error) {
	if configFile == "" {
		conf := defaultConfig
		return &conf, nil
	}
	return LoadFile(configFile, flag.CommandLine)
}

// MustDefault gets the effective config and fails on error.
func MustDefault() *Config {
	conf, err := Default()
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	return conf
}

// LoadFile reads a YAML config over the environment defaults. Flags
// explicitly set on fs take precedence over the file.
func LoadFile(path string, fs *flag.FlagSet) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, envConfig, fs)
}

// Parse decodes YAML over base and re-applies flags set on fs.
func Parse(data []byte, base Config, fs *flag.FlagSet) (*Config, error) {
	conf := base
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if fs != nil {
		override := flag.NewFlagSet("override", flag.ContinueOnError)
		conf.AddFlags(override)
		var err error
		fs.Visit(func(f *flag.Flag) {
			if override.Lookup(f.Name) == nil || err != nil {
				return
			}
			err = override.Set(f.Name, f.Value.String())
		})
		if err != nil {
			return nil, err
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	if c.Slots <= 0 {
		return fmt.Errorf("config: slots must be positive, got %d", c.Slots)
	}
	if c.Command%4 != 0 || c.Response%4 != 0 || c.Stride%4 != 0 {
		return fmt.Errorf("config: region addresses must be word aligned")
	}
	if c.Slots > 1 && c.Stride == 0 {
		return fmt.Errorf("config: stride required for %d slots", c.Slots)
	}
	return nil
}
