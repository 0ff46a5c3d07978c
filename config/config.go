package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"wearsync"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"wearsync"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"10"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"50"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"wearsync"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// Fitbit Web API 配置
	FitbitAPIBase        string        `env:"FITBIT_API_BASE" envDefault:"https://api.fitbit.com"`
	FitbitTokenURL       string        `env:"FITBIT_TOKEN_URL" envDefault:"https://api.fitbit.com/oauth2/token"`
	FitbitClientID       string        `env:"FITBIT_CLIENT_ID"`
	FitbitClientSecret   string        `env:"FITBIT_CLIENT_SECRET"`
	FitbitRequestTimeout time.Duration `env:"FITBIT_REQUEST_TIMEOUT" envDefault:"30s"`

	// 同步配置
	DataDir                    string        `env:"DATA_DIR" envDefault:"./data"`
	SyncMetrics                []string      `env:"SYNC_METRICS" envSeparator:"," envDefault:"steps,calories,distance,heartrate,activities,sleep"`
	SyncWindowDays             int           `env:"SYNC_WINDOW_DAYS" envDefault:"14"`
	ReminderThresholdDays      int           `env:"REMINDER_THRESHOLD_DAYS" envDefault:"3"`
	SyncRunAt                  string        `env:"SYNC_RUN_AT" envDefault:"03:00:00"`
	SyncParticipantConcurrency int           `env:"SYNC_PARTICIPANT_CONCURRENCY" envDefault:"4"`
	IngestMaxConcurrency       int           `env:"INGEST_MAX_CONCURRENCY" envDefault:"0"` // 0 表示整批并发
	SyncRunTimeout             time.Duration `env:"SYNC_RUN_TIMEOUT" envDefault:"30m"`
	MonthlyReminderLimit       int           `env:"MONTHLY_REMINDER_LIMIT" envDefault:"8"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`
	LoggerMaxSizeMB  int    `env:"LOGGER_MAX_SIZE_MB" envDefault:"100"`
	LoggerMaxBackups int    `env:"LOGGER_MAX_BACKUPS" envDefault:"7"`
	LoggerMaxAgeDays int    `env:"LOGGER_MAX_AGE_DAYS" envDefault:"30"`

	// 链路追踪与指标配置
	OTelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"0.1"`
	ServiceVersion  string  `env:"SERVICE_VERSION" envDefault:"dev"`
}

func init() {

	if err := godotenv.Load(); err != nil {

		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	if Cfg.SyncWindowDays < 1 {
		log.Fatal("SYNC_WINDOW_DAYS must be at least 1")
	}

	if Cfg.ReminderThresholdDays < 1 {
		log.Fatal("REMINDER_THRESHOLD_DAYS must be at least 1")
	}

	if len(Cfg.SyncMetrics) == 0 {
		log.Fatal("SYNC_METRICS must list at least one metric")
	}

	if Cfg.FitbitClientID == "" || Cfg.FitbitClientSecret == "" {
		log.Printf("WARN: FITBIT_CLIENT_ID/FITBIT_CLIENT_SECRET not set, token refresh will not work")
	}

	if strings.TrimSpace(Cfg.DataDir) == "" {
		log.Fatal("DATA_DIR is required")
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
