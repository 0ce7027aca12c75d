package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "JOBBRIDGE"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultLogLevel        = "info"
	defaultStoreDriver     = "sqlite"
	defaultSQLitePath      = "jobbridge.db"
	defaultCookieName      = "jobbridge_session"
	defaultIssuer          = "jobbridge"
	defaultRedisChannel    = "jobbridge_realtime"
	defaultFanoutLimit     = 8
	defaultShutdownTimeout = 10 * time.Second
)

// Store drivers accepted by store.driver.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// TableNames maps each entity to its logical table name.
type TableNames struct {
	Users         string
	Students      string
	Jobs          string
	Applications  string
	HiringRecords string
	Notifications string
	Courses       string
	Issues        string
	Contacts      string
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	AllowedOrigins     []string
	LogLevel           string
	LogEncoding        string
	StoreDriver        string
	SQLitePath         string
	BadgerPath         string
	Tables             TableNames
	AuthSigningSecret  string
	AuthIssuer         string
	AuthCookieName     string
	RedisAddress       string
	RedisPassword      string
	RedisChannel       string
	TracingEnabled     bool
	TracingEndpoint    string
	TracingInsecure    bool
	ProvisionOnStartup bool
	ReconcileInterval  time.Duration
	FanoutConcurrency  int
	ShutdownTimeout    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("http.shutdown_timeout", defaultShutdownTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", "json")
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("store.sqlite_path", defaultSQLitePath)
	configViper.SetDefault("store.badger_path", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("realtime.redis_addr", "")
	configViper.SetDefault("realtime.redis_channel", defaultRedisChannel)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("tracing.endpoint", "")
	configViper.SetDefault("tracing.insecure", false)
	configViper.SetDefault("provision.on_startup", true)
	configViper.SetDefault("reconcile.interval", time.Duration(0))
	configViper.SetDefault("notifications.concurrency", defaultFanoutLimit)

	configViper.SetDefault("tables.users", "users")
	configViper.SetDefault("tables.students", "students")
	configViper.SetDefault("tables.jobs", "jobs")
	configViper.SetDefault("tables.applications", "applications")
	configViper.SetDefault("tables.hiring_records", "hiring_records")
	configViper.SetDefault("tables.notifications", "notifications")
	configViper.SetDefault("tables.courses", "institute_courses")
	configViper.SetDefault("tables.issues", "issues")
	configViper.SetDefault("tables.contacts", "contact_history")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		AllowedOrigins:     configViper.GetStringSlice("http.allowed_origins"),
		ShutdownTimeout:    configViper.GetDuration("http.shutdown_timeout"),
		LogLevel:           configViper.GetString("log.level"),
		LogEncoding:        configViper.GetString("log.encoding"),
		StoreDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		SQLitePath:         configViper.GetString("store.sqlite_path"),
		BadgerPath:         configViper.GetString("store.badger_path"),
		AuthSigningSecret:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:         configViper.GetString("auth.issuer"),
		AuthCookieName:     configViper.GetString("auth.cookie_name"),
		RedisAddress:       configViper.GetString("realtime.redis_addr"),
		RedisPassword:      configViper.GetString("realtime.redis_password"),
		RedisChannel:       configViper.GetString("realtime.redis_channel"),
		TracingEnabled:     configViper.GetBool("tracing.enabled"),
		TracingEndpoint:    configViper.GetString("tracing.endpoint"),
		TracingInsecure:    configViper.GetBool("tracing.insecure"),
		ProvisionOnStartup: configViper.GetBool("provision.on_startup"),
		ReconcileInterval:  configViper.GetDuration("reconcile.interval"),
		FanoutConcurrency:  configViper.GetInt("notifications.concurrency"),
		Tables: TableNames{
			Users:         configViper.GetString("tables.users"),
			Students:      configViper.GetString("tables.students"),
			Jobs:          configViper.GetString("tables.jobs"),
			Applications:  configViper.GetString("tables.applications"),
			HiringRecords: configViper.GetString("tables.hiring_records"),
			Notifications: configViper.GetString("tables.notifications"),
			Courses:       configViper.GetString("tables.courses"),
			Issues:        configViper.GetString("tables.issues"),
			Contacts:      configViper.GetString("tables.contacts"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.StoreDriver {
	case DriverMemory, DriverBadger:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite, or badger (got %q)", c.StoreDriver)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile.interval cannot be negative")
	}
	names := map[string]string{}
	for key, name := range map[string]string{
		"tables.users":          c.Tables.Users,
		"tables.students":       c.Tables.Students,
		"tables.jobs":           c.Tables.Jobs,
		"tables.applications":   c.Tables.Applications,
		"tables.hiring_records": c.Tables.HiringRecords,
		"tables.notifications":  c.Tables.Notifications,
		"tables.courses":        c.Tables.Courses,
		"tables.issues":         c.Tables.Issues,
		"tables.contacts":       c.Tables.Contacts,
	} {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s is required", key)
		}
		if other, taken := names[name]; taken {
			return fmt.Errorf("%s and %s share table name %q", key, other, name)
		}
		names[name] = key
	}
	return nil
}
