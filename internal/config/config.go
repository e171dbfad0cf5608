package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

const (
	EnvPrefix          = "MOTIONBLINDS"
	DefaultConfigName  = "motion-blinds"
	DefaultSimulatorID = "00:11:22:33:44:01"
)

// CodecConfig holds the shared encryption key and the motor's timezone
type CodecConfig struct {
	Key      string `mapstructure:"key"`
	Timezone string `mapstructure:"timezone"`
}

// BlindConfig describes the motor and how its session behaves
type BlindConfig struct {
	ID                string        `mapstructure:"id"`
	Name              string        `mapstructure:"name"`
	Kind              string        `mapstructure:"kind"`
	FindTimeout       time.Duration `mapstructure:"findTimeout"`
	DisconnectAfter   time.Duration `mapstructure:"disconnectAfter"`
	CalibrationWindow time.Duration `mapstructure:"calibrationWindow"`
	DoublePressWindow time.Duration `mapstructure:"doublePressWindow"`
	RSSIInterval      time.Duration `mapstructure:"rssiInterval"`
	CommandRate       float64       `mapstructure:"commandRate"`
	CommandBurst      int           `mapstructure:"commandBurst"`
}

// LoggingConfig configures the rolling log file
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

// SimulatorConfig replaces the Bluetooth adapter with an in-process motor
type SimulatorConfig struct {
	Enable          bool `mapstructure:"enable"`
	Port            int  `mapstructure:"port"`
	Position        int  `mapstructure:"position"`
	Tilt            int  `mapstructure:"tilt"`
	Battery         int  `mapstructure:"battery"`
	EndPositionUp   bool `mapstructure:"endPositionUp"`
	EndPositionDown bool `mapstructure:"endPositionDown"`
	Favorite        bool `mapstructure:"favorite"`
	FavoritePercent int  `mapstructure:"favoritePercent"`
	AutoCalibrate   bool `mapstructure:"autoCalibrate"`
}

// Config is the complete application configuration
type Config struct {
	Codec     CodecConfig     `mapstructure:"codec"`
	Blind     BlindConfig     `mapstructure:"blind"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Simulator SimulatorConfig `mapstructure:"simulator"`

	// Command runs a single command instead of the control panel
	Command string `mapstructure:"command"`

	// ConfigFile is the file the configuration was read from, if any
	ConfigFile string `mapstructure:"-"`
}

// Load reads the configuration from command line flags, MOTIONBLINDS_ environment
// variables and an optional YAML/TOML/JSON file, in that order of precedence.
// pflag.ErrHelp is returned when --help was given.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// Environment overrides: prefix MOTIONBLINDS_, dots become underscores
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.motion-blinds")
		v.SetConfigName(DefaultConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and the environment still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if cfg.Simulator.Enable && cfg.Blind.ID == "" {
		cfg.Blind.ID = DefaultSimulatorID
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("codec.key", "")
	v.SetDefault("codec.timezone", "Local")

	v.SetDefault("blind.id", "")
	v.SetDefault("blind.name", "")
	v.SetDefault("blind.kind", string(blind.KindRoller))
	v.SetDefault("blind.findTimeout", blind.DefaultFindTimeout)
	v.SetDefault("blind.disconnectAfter", blind.DefaultDisconnectAfter)
	v.SetDefault("blind.calibrationWindow", blind.DefaultCalibrationWindow)
	v.SetDefault("blind.doublePressWindow", blind.DefaultDoublePressWindow)
	v.SetDefault("blind.rssiInterval", blind.DefaultRSSIInterval)
	v.SetDefault("blind.commandRate", blind.DefaultCommandRate)
	v.SetDefault("blind.commandBurst", blind.DefaultCommandBurst)

	v.SetDefault("logging.file", "motion-blinds.log")
	v.SetDefault("logging.maxSize", 10)
	v.SetDefault("logging.maxBackups", 3)
	v.SetDefault("logging.maxAge", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("simulator.enable", false)
	v.SetDefault("simulator.port", 0)
	v.SetDefault("simulator.position", 100)
	v.SetDefault("simulator.tilt", 180)
	v.SetDefault("simulator.battery", 80)
	v.SetDefault("simulator.endPositionUp", true)
	v.SetDefault("simulator.endPositionDown", true)
	v.SetDefault("simulator.favorite", false)
	v.SetDefault("simulator.favoritePercent", 50)
	v.SetDefault("simulator.autoCalibrate", false)

	v.SetDefault("command", "")
}

// newFlagSet declares the flags; each one is bound to the key of the same name
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(DefaultConfigName, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "configuration file (yaml, toml or json)")
	fs.String("command", "", "run one command and exit: up, down, stop, favorite, position=<0..1>, tilt=<0..1>, speed=<1..3>, connect, disconnect, status")

	fs.String("codec.key", "", "encryption key shared with the motors")
	fs.String("codec.timezone", "Local", "IANA timezone of the motor clock")

	fs.String("blind.id", "", "Bluetooth address of the motor")
	fs.String("blind.name", "", "display name of the blind")
	fs.String("blind.kind", string(blind.KindRoller), "blind kind: "+kindList())
	fs.Duration("blind.findTimeout", blind.DefaultFindTimeout, "how long to scan for the motor")
	fs.Duration("blind.disconnectAfter", blind.DefaultDisconnectAfter, "idle time before disconnecting")
	fs.Duration("blind.calibrationWindow", blind.DefaultCalibrationWindow, "connection time allowed for calibration")
	fs.Duration("blind.doublePressWindow", blind.DefaultDoublePressWindow, "second stop within this window goes to favorite")
	fs.Duration("blind.rssiInterval", blind.DefaultRSSIInterval, "how often to refresh the signal strength while disconnected, 0 to disable")
	fs.Float64("blind.commandRate", blind.DefaultCommandRate, "commands per second, 0 for no limit")
	fs.Int("blind.commandBurst", blind.DefaultCommandBurst, "commands sent without pacing")

	fs.String("logging.file", "motion-blinds.log", "log file, empty to disable")

	fs.Bool("metrics.enable", false, "serve Prometheus metrics")
	fs.String("metrics.addr", ":9464", "metrics listen address")

	fs.Bool("simulator.enable", false, "use a simulated motor instead of Bluetooth")
	fs.Int("simulator.port", 0, "port of the simulated motor web API, 0 to disable")

	return fs
}

func kindList() string {
	kinds := make([]string, 0, len(blind.AllKinds))
	for _, k := range blind.AllKinds {
		kinds = append(kinds, string(k))
	}
	return strings.Join(kinds, ", ")
}

// Usage returns the flag help text
func Usage() string {
	return newFlagSet().FlagUsages()
}

// Validate checks the settings every run needs
func (c *Config) Validate() error {
	if c.Codec.Key == "" {
		return fmt.Errorf("codec.key: %w", motion.ErrKeyNotSet)
	}
	switch len(c.Codec.Key) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: codec.key must be 16, 24 or 32 bytes, got %d", motion.ErrInvalidArgument, len(c.Codec.Key))
	}
	if c.Codec.Timezone == "" {
		return fmt.Errorf("codec.timezone: %w", motion.ErrTimezoneNotSet)
	}
	if _, err := time.LoadLocation(c.Codec.Timezone); err != nil {
		return fmt.Errorf("%w: codec.timezone %q: %v", motion.ErrInvalidArgument, c.Codec.Timezone, err)
	}
	if c.Blind.ID == "" {
		return fmt.Errorf("%w: blind.id is required", motion.ErrInvalidArgument)
	}
	if _, err := blind.ParseBlindKind(c.Blind.Kind); err != nil {
		return fmt.Errorf("blind.kind: %w", err)
	}
	if c.Blind.CommandBurst < 0 {
		return fmt.Errorf("%w: blind.commandBurst must not be negative", motion.ErrInvalidArgument)
	}
	if c.Metrics.Enable && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required when metrics are enabled", motion.ErrInvalidArgument)
	}
	if c.Simulator.Enable {
		return c.Simulator.validate()
	}
	return nil
}

func (s SimulatorConfig) validate() error {
	ranges := []struct {
		name  string
		value int
		limit int
	}{
		{"simulator.port", s.Port, 65535},
		{"simulator.position", s.Position, motion.MaxPercentage},
		{"simulator.tilt", s.Tilt, motion.MaxAngle},
		{"simulator.battery", s.Battery, 100},
		{"simulator.favoritePercent", s.FavoritePercent, motion.MaxPercentage},
	}
	for _, r := range ranges {
		if r.value < 0 || r.value > r.limit {
			return fmt.Errorf("%w: %s must be between 0 and %d, got %d", motion.ErrInvalidArgument, r.name, r.limit, r.value)
		}
	}
	return nil
}

// BlindSessionConfig converts the blind section into a session configuration
func (c *Config) BlindSessionConfig() (blind.Config, error) {
	kind, err := blind.ParseBlindKind(c.Blind.Kind)
	if err != nil {
		return blind.Config{}, err
	}
	return blind.Config{
		PeripheralID:      c.Blind.ID,
		Name:              c.Blind.Name,
		Kind:              kind,
		FindTimeout:       c.Blind.FindTimeout,
		DisconnectAfter:   c.Blind.DisconnectAfter,
		CalibrationWindow: c.Blind.CalibrationWindow,
		DoublePressWindow: c.Blind.DoublePressWindow,
		RSSIInterval:      c.Blind.RSSIInterval,
		CommandRate:       c.Blind.CommandRate,
		CommandBurst:      c.Blind.CommandBurst,
	}, nil
}
