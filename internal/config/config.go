// Package config provides centralized configuration management.
//
// Every tunable of the engine lives here: gameplay constants, sandbox
// budgets, replay buffer caps and the host surfaces. Values come from the
// defaults below, an optional berrybots.{yaml,json,toml} file, and
// BERRYBOTS_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// BERRYBOTS_PHYSICS_LASERSPEED.
const EnvPrefix = "BERRYBOTS"

// =============================================================================
// PHYSICS
// =============================================================================

// PhysicsConfig holds the gameplay constants. Distances are stage units,
// speeds are units per tick.
type PhysicsConfig struct {
	ShipRadius    float64 `mapstructure:"shipRadius"`
	MaxSpeed      float64 `mapstructure:"maxSpeed"`
	ThrusterAccel float64 `mapstructure:"thrusterAccel"`
	DefaultEnergy float64 `mapstructure:"defaultEnergy"`
	EnergyRegen   float64 `mapstructure:"energyRegen"`

	LaserSpeed    float64 `mapstructure:"laserSpeed"`
	LaserDamage   float64 `mapstructure:"laserDamage"`
	LaserCooldown int     `mapstructure:"laserCooldown"`

	TorpedoSpeed       float64 `mapstructure:"torpedoSpeed"`
	TorpedoBlastRadius float64 `mapstructure:"torpedoBlastRadius"`
	TorpedoBlastDamage float64 `mapstructure:"torpedoBlastDamage"`
	TorpedoBlastForce  float64 `mapstructure:"torpedoBlastForce"`
	TorpedoCooldown    int     `mapstructure:"torpedoCooldown"`
	MaxTorpedoSparks   int     `mapstructure:"maxTorpedoSparks"`
}

// DefaultPhysics returns the standard arena rules.
func DefaultPhysics() PhysicsConfig {
	return PhysicsConfig{
		ShipRadius:    8,
		MaxSpeed:      12,
		ThrusterAccel: 1,
		DefaultEnergy: 100,
		EnergyRegen:   0,

		LaserSpeed:    25,
		LaserDamage:   4,
		LaserCooldown: 5,

		TorpedoSpeed:       12,
		TorpedoBlastRadius: 100,
		TorpedoBlastDamage: 30,
		TorpedoBlastForce:  25,
		TorpedoCooldown:    100,
		MaxTorpedoSparks:   30,
	}
}

// =============================================================================
// SANDBOX
// =============================================================================

// SandboxConfig controls script isolation and budgets.
type SandboxConfig struct {
	ScriptsRoot   string `mapstructure:"scriptsRoot"`
	StepLimit     int64  `mapstructure:"stepLimit"`     // VM instructions per RUN call
	InitStepLimit int64  `mapstructure:"initStepLimit"` // VM instructions for load, INIT and VALIDATE
	Workers       int    `mapstructure:"workers"`       // parallel RUN calls; 1 runs teams inline
	CallStackSize int    `mapstructure:"callStackSize"`
	RegistrySize  int    `mapstructure:"registrySize"`
	MaxStringLen  int    `mapstructure:"maxStringLen"` // longest string a script may build, in bytes
	MaxMemory     int64  `mapstructure:"maxMemory"`    // estimated bytes reachable from a script's globals
}

// DefaultSandbox returns conservative budgets.
func DefaultSandbox() SandboxConfig {
	return SandboxConfig{
		ScriptsRoot:   "./bots",
		StepLimit:     2_000_000,
		InitStepLimit: 20_000_000,
		Workers:       1,
		CallStackSize: 256,
		RegistrySize:  256 * 20,
		MaxStringLen:  1 << 20,
		MaxMemory:     64 << 20,
	}
}

// =============================================================================
// MATCH
// =============================================================================

// MatchConfig holds per-match settings.
type MatchConfig struct {
	MaxTicks        int   `mapstructure:"maxTicks"`
	Seed            int64 `mapstructure:"seed"`
	TPS             int   `mapstructure:"tps"` // live pacing; 0 runs unthrottled
	MaxShipsPerTeam int   `mapstructure:"maxShipsPerTeam"`
}

// DefaultMatch returns the default match settings.
func DefaultMatch() MatchConfig {
	return MatchConfig{
		MaxTicks:        20_000,
		Seed:            1,
		TPS:             0,
		MaxShipsPerTeam: 20,
	}
}

// =============================================================================
// REPLAY
// =============================================================================

// ReplayConfig bounds the replay encoder's memory. Caps are in chunks of
// ChunkSize integers per category.
type ReplayConfig struct {
	ChunkSize         int    `mapstructure:"chunkSize"`
	MaxMiscChunks     int    `mapstructure:"maxMiscChunks"`
	MaxShipTickChunks int    `mapstructure:"maxShipTickChunks"`
	MaxLaserChunks    int    `mapstructure:"maxLaserChunks"`
	MaxTextChunks     int    `mapstructure:"maxTextChunks"`
	TemplatePath      string `mapstructure:"templatePath"`
	OutputDir         string `mapstructure:"outputDir"`
}

// DefaultReplay returns the default replay limits.
func DefaultReplay() ReplayConfig {
	return ReplayConfig{
		ChunkSize:         4096,
		MaxMiscChunks:     256,
		MaxShipTickChunks: 16384,
		MaxLaserChunks:    4096,
		MaxTextChunks:     256,
		TemplatePath:      "",
		OutputDir:         "./replays",
	}
}

// =============================================================================
// TRANSIENT GRAPHICS
// =============================================================================

// GfxConfig caps the transient hit/death graphics tracked for presentation.
type GfxConfig struct {
	MaxLaserHits     int `mapstructure:"maxLaserHits"`
	MaxTorpedoHits   int `mapstructure:"maxTorpedoHits"`
	MaxTorpedoBlasts int `mapstructure:"maxTorpedoBlasts"`
	MaxShipDeaths    int `mapstructure:"maxShipDeaths"`
	LaserHitTicks    int `mapstructure:"laserHitTicks"`
	TorpedoHitTicks  int `mapstructure:"torpedoHitTicks"`
	BlastTicks       int `mapstructure:"blastTicks"`
	DeathTicks       int `mapstructure:"deathTicks"`
}

// DefaultGfx returns the default graphic caps.
func DefaultGfx() GfxConfig {
	return GfxConfig{
		MaxLaserHits:     100,
		MaxTorpedoHits:   100,
		MaxTorpedoBlasts: 100,
		MaxShipDeaths:    100,
		LaserHitTicks:    4,
		TorpedoHitTicks:  16,
		BlastTicks:       16,
		DeathTicks:       32,
	}
}

// =============================================================================
// RUNNER
// =============================================================================

// RunnerConfig controls the batch match runner.
type RunnerConfig struct {
	Threads   int `mapstructure:"threads"`
	QueueSize int `mapstructure:"queueSize"`
	// EventLogDir receives one match-<id>.jsonl event log per match when
	// set.
	EventLogDir string `mapstructure:"eventLogDir"`
}

// DefaultRunner returns the default runner settings.
func DefaultRunner() RunnerConfig {
	return RunnerConfig{Threads: 2, QueueSize: 64}
}

// =============================================================================
// SERVER
// =============================================================================

// ServerConfig holds HTTP settings for cmd/server.
type ServerConfig struct {
	Port              int      `mapstructure:"port"`
	DebugPort         int      `mapstructure:"debugPort"`
	RequestsPerSecond float64  `mapstructure:"requestsPerSecond"`
	Burst             int      `mapstructure:"burst"`
	AllowedOrigins    []string `mapstructure:"allowedOrigins"`
	MaxSpectators     int      `mapstructure:"maxSpectators"`
	LiveTPS           int      `mapstructure:"liveTps"`
	// AdminToken guards match submission. Empty leaves it open.
	AdminToken string `mapstructure:"adminToken"`
	// DebugExternal lets the metrics and pprof server bind beyond loopback.
	DebugExternal bool `mapstructure:"debugExternal"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:              3000,
		DebugPort:         6060,
		RequestsPerSecond: 10,
		Burst:             20,
		AllowedOrigins:    []string{"http://localhost:*", "http://127.0.0.1:*"},
		MaxSpectators:     100,
		LiveTPS:           60,
	}
}

// =============================================================================
// STORAGE & LOGGING
// =============================================================================

// StorageConfig selects where match records are kept. An empty DSN keeps
// them in memory.
type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DefaultStorage returns an on-disk sqlite database.
func DefaultStorage() StorageConfig {
	return StorageConfig{DSN: "berrybots.db"}
}

// LoggingConfig selects log level and output format ("json" or "console").
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultLogging returns the default logging configuration.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "console"}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Physics PhysicsConfig `mapstructure:"physics"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Match   MatchConfig   `mapstructure:"match"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Gfx     GfxConfig     `mapstructure:"gfx"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Physics: DefaultPhysics(),
		Sandbox: DefaultSandbox(),
		Match:   DefaultMatch(),
		Replay:  DefaultReplay(),
		Gfx:     DefaultGfx(),
		Runner:  DefaultRunner(),
		Server:  DefaultServer(),
		Storage: DefaultStorage(),
		Logging: DefaultLogging(),
	}
}

// Load builds the configuration from defaults, an optional berrybots config
// file in configDir, and environment overrides.
func Load(configDir string) (AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("berrybots")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Physics.ShipRadius <= 0 {
		errs = append(errs, errors.New("physics.shipRadius must be positive"))
	}
	if c.Physics.LaserSpeed <= 0 || c.Physics.TorpedoSpeed <= 0 {
		errs = append(errs, errors.New("projectile speeds must be positive"))
	}
	if c.Physics.TorpedoBlastDamage <= 0 {
		errs = append(errs, errors.New("physics.torpedoBlastDamage must be positive"))
	}
	if c.Sandbox.Workers < 1 {
		errs = append(errs, errors.New("sandbox.workers must be at least 1"))
	}
	if c.Sandbox.MaxStringLen < 1 || c.Sandbox.MaxMemory < int64(c.Sandbox.MaxStringLen) {
		errs = append(errs, errors.New("sandbox.maxStringLen must be positive and no larger than sandbox.maxMemory"))
	}
	if c.Replay.ChunkSize < 1 {
		errs = append(errs, errors.New("replay.chunkSize must be at least 1"))
	}
	if c.Runner.Threads < 1 {
		errs = append(errs, errors.New("runner.threads must be at least 1"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("physics.shipRadius", d.Physics.ShipRadius)
	v.SetDefault("physics.maxSpeed", d.Physics.MaxSpeed)
	v.SetDefault("physics.thrusterAccel", d.Physics.ThrusterAccel)
	v.SetDefault("physics.defaultEnergy", d.Physics.DefaultEnergy)
	v.SetDefault("physics.energyRegen", d.Physics.EnergyRegen)
	v.SetDefault("physics.laserSpeed", d.Physics.LaserSpeed)
	v.SetDefault("physics.laserDamage", d.Physics.LaserDamage)
	v.SetDefault("physics.laserCooldown", d.Physics.LaserCooldown)
	v.SetDefault("physics.torpedoSpeed", d.Physics.TorpedoSpeed)
	v.SetDefault("physics.torpedoBlastRadius", d.Physics.TorpedoBlastRadius)
	v.SetDefault("physics.torpedoBlastDamage", d.Physics.TorpedoBlastDamage)
	v.SetDefault("physics.torpedoBlastForce", d.Physics.TorpedoBlastForce)
	v.SetDefault("physics.torpedoCooldown", d.Physics.TorpedoCooldown)
	v.SetDefault("physics.maxTorpedoSparks", d.Physics.MaxTorpedoSparks)

	v.SetDefault("sandbox.scriptsRoot", d.Sandbox.ScriptsRoot)
	v.SetDefault("sandbox.stepLimit", d.Sandbox.StepLimit)
	v.SetDefault("sandbox.initStepLimit", d.Sandbox.InitStepLimit)
	v.SetDefault("sandbox.workers", d.Sandbox.Workers)
	v.SetDefault("sandbox.callStackSize", d.Sandbox.CallStackSize)
	v.SetDefault("sandbox.registrySize", d.Sandbox.RegistrySize)
	v.SetDefault("sandbox.maxStringLen", d.Sandbox.MaxStringLen)
	v.SetDefault("sandbox.maxMemory", d.Sandbox.MaxMemory)

	v.SetDefault("match.maxTicks", d.Match.MaxTicks)
	v.SetDefault("match.seed", d.Match.Seed)
	v.SetDefault("match.tps", d.Match.TPS)
	v.SetDefault("match.maxShipsPerTeam", d.Match.MaxShipsPerTeam)

	v.SetDefault("replay.chunkSize", d.Replay.ChunkSize)
	v.SetDefault("replay.maxMiscChunks", d.Replay.MaxMiscChunks)
	v.SetDefault("replay.maxShipTickChunks", d.Replay.MaxShipTickChunks)
	v.SetDefault("replay.maxLaserChunks", d.Replay.MaxLaserChunks)
	v.SetDefault("replay.maxTextChunks", d.Replay.MaxTextChunks)
	v.SetDefault("replay.templatePath", d.Replay.TemplatePath)
	v.SetDefault("replay.outputDir", d.Replay.OutputDir)

	v.SetDefault("gfx.maxLaserHits", d.Gfx.MaxLaserHits)
	v.SetDefault("gfx.maxTorpedoHits", d.Gfx.MaxTorpedoHits)
	v.SetDefault("gfx.maxTorpedoBlasts", d.Gfx.MaxTorpedoBlasts)
	v.SetDefault("gfx.maxShipDeaths", d.Gfx.MaxShipDeaths)
	v.SetDefault("gfx.laserHitTicks", d.Gfx.LaserHitTicks)
	v.SetDefault("gfx.torpedoHitTicks", d.Gfx.TorpedoHitTicks)
	v.SetDefault("gfx.blastTicks", d.Gfx.BlastTicks)
	v.SetDefault("gfx.deathTicks", d.Gfx.DeathTicks)

	v.SetDefault("runner.threads", d.Runner.Threads)
	v.SetDefault("runner.queueSize", d.Runner.QueueSize)
	v.SetDefault("runner.eventLogDir", d.Runner.EventLogDir)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.debugPort", d.Server.DebugPort)
	v.SetDefault("server.requestsPerSecond", d.Server.RequestsPerSecond)
	v.SetDefault("server.burst", d.Server.Burst)
	v.SetDefault("server.allowedOrigins", d.Server.AllowedOrigins)
	v.SetDefault("server.maxSpectators", d.Server.MaxSpectators)
	v.SetDefault("server.liveTps", d.Server.LiveTPS)
	v.SetDefault("server.adminToken", d.Server.AdminToken)
	v.SetDefault("server.debugExternal", d.Server.DebugExternal)

	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
