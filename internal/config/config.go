package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Azure    AzureConfig    `mapstructure:"azure"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the application database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// WorkflowConfig holds scheduling and lifecycle tuning knobs
type WorkflowConfig struct {
	ScheduleMinutes        int `mapstructure:"schedule_minutes"`
	MaxWorkerThreads       int `mapstructure:"max_worker_threads"`
	MaturityDelayMinutes   int `mapstructure:"maturity_delay_minutes"`
	InitialLookbackDays    int `mapstructure:"initial_lookback_days"`
	ReminderThresholdHours int `mapstructure:"reminder_threshold_hours"`
	MaxProvisionRetries    int `mapstructure:"max_provision_retries"`
	QueueCapacity          int `mapstructure:"queue_capacity"`
}

// OllamaConfig holds the classifier endpoint configuration
type OllamaConfig struct {
	Host  string `mapstructure:"host"`
	Model string `mapstructure:"model"`
}

// AzureConfig holds Azure AD / Microsoft Graph credentials
type AzureConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("workflow.schedule_minutes", 5)
	viper.SetDefault("workflow.max_worker_threads", 5)
	viper.SetDefault("workflow.maturity_delay_minutes", 5)
	viper.SetDefault("workflow.initial_lookback_days", 1)
	viper.SetDefault("workflow.reminder_threshold_hours", 24)
	viper.SetDefault("workflow.max_provision_retries", 3)
	viper.SetDefault("workflow.queue_capacity", 256)

	viper.SetDefault("ollama.host", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3:8b")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASS")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")

	// Workflow
	viper.BindEnv("workflow.schedule_minutes", "SCHEDULE_MINUTES")
	viper.BindEnv("workflow.max_worker_threads", "MAX_WORKER_THREADS")
	viper.BindEnv("workflow.maturity_delay_minutes", "MATURITY_DELAY_MINUTES")
	viper.BindEnv("workflow.initial_lookback_days", "INITIAL_LOOKBACK_DAYS")
	viper.BindEnv("workflow.reminder_threshold_hours", "REMINDER_THRESHOLD_HOURS")
	viper.BindEnv("workflow.max_provision_retries", "MAX_PROVISION_RETRIES")
	viper.BindEnv("workflow.queue_capacity", "QUEUE_CAPACITY")

	// Ollama
	viper.BindEnv("ollama.host", "OLLAMA_HOST")
	viper.BindEnv("ollama.model", "OLLAMA_MODEL")

	// Azure AD
	viper.BindEnv("azure.tenant_id", "AZURE_TENANT_ID")
	viper.BindEnv("azure.client_id", "AZURE_CLIENT_ID")
	viper.BindEnv("azure.client_secret", "AZURE_CLIENT_SECRET")
}

// GetDSN returns the application database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Workflow.ScheduleMinutes <= 0 {
		return fmt.Errorf("schedule interval must be greater than 0")
	}

	if c.Workflow.MaxWorkerThreads <= 0 {
		return fmt.Errorf("worker thread count must be greater than 0")
	}

	if c.Workflow.MaturityDelayMinutes < 0 {
		return fmt.Errorf("maturity delay must not be negative")
	}

	if c.Ollama.Host == "" || c.Ollama.Model == "" {
		return fmt.Errorf("ollama host and model are required")
	}

	return nil
}
