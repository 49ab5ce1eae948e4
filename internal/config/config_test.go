package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadForTest(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	cfg, err := LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadForTest(t)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5, cfg.Workflow.ScheduleMinutes)
	assert.Equal(t, 5, cfg.Workflow.MaxWorkerThreads)
	assert.Equal(t, 5, cfg.Workflow.MaturityDelayMinutes)
	assert.Equal(t, 1, cfg.Workflow.InitialLookbackDays)
	assert.Equal(t, 24, cfg.Workflow.ReminderThresholdHours)
	assert.Equal(t, 3, cfg.Workflow.MaxProvisionRetries)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.Host)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SCHEDULE_MINUTES", "15")
	t.Setenv("MAX_WORKER_THREADS", "8")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "onboarding")
	t.Setenv("DB_NAME", "onboarding")
	t.Setenv("OLLAMA_MODEL", "mistral:7b")

	cfg := loadForTest(t)

	assert.Equal(t, 15, cfg.Workflow.ScheduleMinutes)
	assert.Equal(t, 8, cfg.Workflow.MaxWorkerThreads)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "mistral:7b", cfg.Ollama.Model)
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "onboarding",
		Password: "secret",
		DBName:   "onboarding",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost user=onboarding password=secret dbname=onboarding port=5432 sslmode=disable",
		db.GetDSN())
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Host: "localhost", User: "u", DBName: "d"},
		Workflow: WorkflowConfig{ScheduleMinutes: 5, MaxWorkerThreads: 5},
		Ollama:   OllamaConfig{Host: "http://localhost:11434", Model: "llama3:8b"},
	}
	assert.NoError(t, valid.Validate())

	noPort := *valid
	noPort.Server.Port = ""
	assert.Error(t, noPort.Validate())

	noDB := *valid
	noDB.Database.User = ""
	assert.Error(t, noDB.Validate())

	badInterval := *valid
	badInterval.Workflow.ScheduleMinutes = 0
	assert.Error(t, badInterval.Validate())

	badWorkers := *valid
	badWorkers.Workflow.MaxWorkerThreads = -1
	assert.Error(t, badWorkers.Validate())

	badMaturity := *valid
	badMaturity.Workflow.MaturityDelayMinutes = -1
	assert.Error(t, badMaturity.Validate())

	noModel := *valid
	noModel.Ollama.Model = ""
	assert.Error(t, noModel.Validate())
}
