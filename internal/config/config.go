package config

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv       = "SEA_BRIDGE_CONFIG"
	logLevelEnv         = "LOG_LEVEL"
	analysisBaseURLEnv  = "SEA_BASE_URL"
	analysisUserEnv     = "SEA_USERNAME"
	analysisPasswordEnv = "SEA_PASSWORD"
	loincPrimaryEnv     = "SEA_LOINC_PRIMARY_CODE"
	fhirServerEnv       = "FHIR_SERVER_URL"
	fhirTokenEnv        = "FHIR_ACCESS_TOKEN"
	fhirPatientEnv      = "FHIR_PATIENT_ID"
	fhirUserEnv         = "FHIR_USER"
	databaseDriverEnv   = "DATABASE_DRIVER"
	databaseDSNEnv      = "DATABASE_DSN"
	redisAddrEnv        = "REDIS_ADDR"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv   = "TELEGRAM_CHAT_ID"
	otlpEndpointEnv     = "OTEL_EXPORTER_OTLP_ENDPOINT"
	exportS3BucketEnv   = "SEA_EXPORT_S3_BUCKET"
	serverAddrEnv       = "SEA_LISTEN_ADDR"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Poll          PollConfig         `yaml:"poll"`
	FHIR          FHIRConfig         `yaml:"fhir"`
	Database      DatabaseConfig     `yaml:"database"`
	Export        ExportConfig       `yaml:"export"`
	Redis         RedisConfig        `yaml:"redis"`
	Notifications NotificationConfig `yaml:"notifications"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
	Server        ServerConfig       `yaml:"server"`
	Inbox         InboxConfig        `yaml:"inbox"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AnalysisConfig describes the SEA analysis service.
type AnalysisConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	LoginURL       string `yaml:"loginUrl"`
	UploadURL      string `yaml:"uploadUrl"`
	ScoreURL       string `yaml:"scoreUrl"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// Timeout returns the per-request timeout for non-upload calls.
func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// PollConfig bounds the score polling loop.
type PollConfig struct {
	Attempts        int `yaml:"attempts"`
	IntervalSeconds int `yaml:"intervalSeconds"`
}

// Interval is the fixed pause before each poll request.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// FHIRConfig is the clinical-record store launch context and coding.
type FHIRConfig struct {
	ServerURL   string      `yaml:"serverUrl"`
	AccessToken string      `yaml:"accessToken"`
	PatientID   string      `yaml:"patientId"`
	User        string      `yaml:"user"`
	Verify      bool        `yaml:"verify"`
	Codes       CodesConfig `yaml:"codes"`
}

// CodesConfig overrides parts of the Observation coding. Empty fields keep
// the built-in defaults.
type CodesConfig struct {
	Profile          string `yaml:"profile"`
	PrimaryCode      string `yaml:"primaryCode"`
	PrimaryDisplay   string `yaml:"primaryDisplay"`
	SecondaryCode    string `yaml:"secondaryCode"`
	SecondaryDisplay string `yaml:"secondaryDisplay"`
	IndexSystem      string `yaml:"indexSystem"`
	IndexCode        string `yaml:"indexCode"`
	IndexDisplay     string `yaml:"indexDisplay"`
	Text             string `yaml:"text"`
}

// DatabaseConfig selects the run history database. An empty DSN disables
// history.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ExportConfig chooses where exported artifacts land.
type ExportConfig struct {
	Backend string   `yaml:"backend"`
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`
}

// S3Config addresses a bucket on AWS or an S3-compatible service.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// RedisConfig enables snapshot publishing when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// TelemetryConfig controls the OTLP metrics exporter.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// ServerConfig is the HTTP API listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// InboxConfig drives the directory watcher.
type InboxConfig struct {
	Dir             string `yaml:"dir"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
	ExportRecords   bool   `yaml:"exportRecords"`
}

// Interval is the pause between directory sweeps.
func (i InboxConfig) Interval() time.Duration {
	return time.Duration(i.IntervalSeconds) * time.Second
}

// Load reads YAML configuration from $SEA_BRIDGE_CONFIG (if set) and applies
// environment overrides.
func Load() Config {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile reads YAML configuration from path (if non-empty) and applies
// environment overrides.
func LoadFile(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Logging.Level, logLevelEnv)

	setString(&c.Analysis.BaseURL, analysisBaseURLEnv)
	setString(&c.Analysis.Username, analysisUserEnv)
	setString(&c.Analysis.Password, analysisPasswordEnv)

	setString(&c.FHIR.ServerURL, fhirServerEnv)
	setString(&c.FHIR.AccessToken, fhirTokenEnv)
	setString(&c.FHIR.PatientID, fhirPatientEnv)
	setString(&c.FHIR.User, fhirUserEnv)
	setString(&c.FHIR.Codes.PrimaryCode, loincPrimaryEnv)

	setString(&c.Database.Driver, databaseDriverEnv)
	setString(&c.Database.DSN, databaseDSNEnv)

	setString(&c.Redis.Addr, redisAddrEnv)

	setString(&c.Notifications.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Notifications.Telegram.ChatID, telegramChatIDEnv)

	if v := os.Getenv(otlpEndpointEnv); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}

	if v := os.Getenv(exportS3BucketEnv); v != "" {
		c.Export.S3.Bucket = v
		c.Export.Backend = "s3"
	}

	setString(&c.Server.Addr, serverAddrEnv)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func (c *Config) normalize() {
	def := defaultConfig()
	if c.Poll.Attempts <= 0 {
		log.Printf("config: poll attempts %d invalid, reverting to %d", c.Poll.Attempts, def.Poll.Attempts)
		c.Poll.Attempts = def.Poll.Attempts
	}
	if c.Poll.IntervalSeconds <= 0 {
		c.Poll.IntervalSeconds = def.Poll.IntervalSeconds
	}
	if c.Inbox.IntervalSeconds <= 0 {
		c.Inbox.IntervalSeconds = def.Inbox.IntervalSeconds
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		c.Analysis.TimeoutSeconds = def.Analysis.TimeoutSeconds
	}
	c.Export.Backend = strings.ToLower(strings.TrimSpace(c.Export.Backend))
	if c.Export.Backend == "" {
		c.Export.Backend = def.Export.Backend
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	mergeString(&base.Analysis.BaseURL, override.Analysis.BaseURL)
	mergeString(&base.Analysis.LoginURL, override.Analysis.LoginURL)
	mergeString(&base.Analysis.UploadURL, override.Analysis.UploadURL)
	mergeString(&base.Analysis.ScoreURL, override.Analysis.ScoreURL)
	mergeString(&base.Analysis.Username, override.Analysis.Username)
	mergeString(&base.Analysis.Password, override.Analysis.Password)
	if override.Analysis.TimeoutSeconds > 0 {
		base.Analysis.TimeoutSeconds = override.Analysis.TimeoutSeconds
	}

	if override.Poll.Attempts != 0 {
		base.Poll.Attempts = override.Poll.Attempts
	}
	if override.Poll.IntervalSeconds != 0 {
		base.Poll.IntervalSeconds = override.Poll.IntervalSeconds
	}

	mergeString(&base.FHIR.ServerURL, override.FHIR.ServerURL)
	mergeString(&base.FHIR.AccessToken, override.FHIR.AccessToken)
	mergeString(&base.FHIR.PatientID, override.FHIR.PatientID)
	mergeString(&base.FHIR.User, override.FHIR.User)
	if override.FHIR.Verify {
		base.FHIR.Verify = true
	}
	base.FHIR.Codes = mergeCodes(base.FHIR.Codes, override.FHIR.Codes)

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	mergeString(&base.Export.Backend, override.Export.Backend)
	mergeString(&base.Export.Dir, override.Export.Dir)
	if override.Export.S3.Bucket != "" {
		base.Export.S3 = override.Export.S3
	}

	if override.Redis.Addr != "" {
		base.Redis = override.Redis
	}

	mergeString(&base.Notifications.Telegram.BotToken, override.Notifications.Telegram.BotToken)
	mergeString(&base.Notifications.Telegram.ChatID, override.Notifications.Telegram.ChatID)

	if override.Telemetry.Endpoint != "" {
		base.Telemetry = override.Telemetry
	}

	mergeString(&base.Server.Addr, override.Server.Addr)

	mergeString(&base.Inbox.Dir, override.Inbox.Dir)
	if override.Inbox.IntervalSeconds != 0 {
		base.Inbox.IntervalSeconds = override.Inbox.IntervalSeconds
	}
	if override.Inbox.ExportRecords {
		base.Inbox.ExportRecords = true
	}

	return base
}

func mergeCodes(base, override CodesConfig) CodesConfig {
	mergeString(&base.Profile, override.Profile)
	mergeString(&base.PrimaryCode, override.PrimaryCode)
	mergeString(&base.PrimaryDisplay, override.PrimaryDisplay)
	mergeString(&base.SecondaryCode, override.SecondaryCode)
	mergeString(&base.SecondaryDisplay, override.SecondaryDisplay)
	mergeString(&base.IndexSystem, override.IndexSystem)
	mergeString(&base.IndexCode, override.IndexCode)
	mergeString(&base.IndexDisplay, override.IndexDisplay)
	mergeString(&base.Text, override.Text)
	return base
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Analysis: AnalysisConfig{BaseURL: "https://hncseasystem.com/sea/v2", TimeoutSeconds: 30},
		Poll:     PollConfig{Attempts: 8, IntervalSeconds: 5},
		Database: DatabaseConfig{Driver: "sqlite", DSN: ""},
		Export:   ExportConfig{Backend: "local", Dir: "exports"},
		Redis:    RedisConfig{Channel: "sea-bridge:session"},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
		Server: ServerConfig{Addr: ":8080"},
		Inbox:  InboxConfig{Dir: "inbox", IntervalSeconds: 30},
	}
}

// Redacted returns a copy safe to print: secrets are masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Analysis.Password = mask(c.Analysis.Password)
	c.FHIR.AccessToken = mask(c.FHIR.AccessToken)
	c.Redis.Password = mask(c.Redis.Password)
	c.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	c.Export.S3.SecretAccessKey = mask(c.Export.S3.SecretAccessKey)
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "@") {
		c.Database.DSN = "***"
	}
	return c
}
