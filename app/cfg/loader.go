package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"castpoll" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" default:"castpoll" description:"Database password (required)" required:"true"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"castpoll" description:"Database name"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" default:"http://localhost:8080" description:"Public base URL used in WebSub callback URLs"`
	SeedFile          string `long:"seed-file" env:"SEED_FILE" default:"./feeds.yml" description:"YAML file with feed URLs registered at startup"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for feed ingestion"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Dispatch interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for admin endpoints (optional)"`

	// Ingestion policy
	MaxRetries   int `long:"max-retries" env:"MAX_RETRIES" default:"12" description:"Consecutive failures before a feed is deactivated"`
	FetchTimeout int `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"10" description:"Feed fetch timeout in seconds"`

	// WebSub
	LeaseSeconds int `long:"lease-seconds" env:"LEASE_SECONDS" default:"604800" description:"Requested WebSub lease in seconds"`

	// Application metadata
	UserAgent  string `long:"user-agent" env:"USER_AGENT" default:"castpoll" description:"User agent name for outbound HTTP requests"`
	ContactUrl string `long:"contact-url" env:"CONTACT_URL" default:"https://github.com/castpoll/castpoll" description:"Contact URL advertised in the user agent"`
	Timezone   string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug      bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBHost:            raw.DBHost,
		DBPort:            raw.DBPort,
		DBUser:            raw.DBUser,
		DBPassword:        raw.DBPassword,
		DBName:            raw.DBName,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		SeedFile:          raw.SeedFile,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		MaxRetries:        raw.MaxRetries,
		FetchTimeout:      raw.FetchTimeout,
		LeaseSeconds:      raw.LeaseSeconds,
		UserAgent:         raw.UserAgent,
		ContactUrl:        raw.ContactUrl,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
