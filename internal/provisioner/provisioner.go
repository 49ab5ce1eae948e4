package provisioner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mail-onboarding-go/internal/models"
)

// Error is a provisioning failure tagged transient or permanent. Transient
// failures are retried on later advancement passes; permanent ones fail the
// request once the retry budget is spent.
type Error struct {
	Msg       string
	Transient bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether a provisioning error is worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// Provisioner writes the user row into a config's target datastore.
type Provisioner interface {
	Provision(ctx context.Context, cfg *models.WorkflowConfig, userEmail string) error
}

// TargetDBProvisioner provisions users over gorm, polymorphic over the
// supported target backends. It holds no connection state; each call opens
// the target described by the config.
type TargetDBProvisioner struct{}

// NewTargetDBProvisioner creates the default provisioning sink.
func NewTargetDBProvisioner() *TargetDBProvisioner {
	return &TargetDBProvisioner{}
}

// Provision upserts the user row in the config's target table, driven by the
// column mappings. A config without a target datastore is a no-op; the
// caller still writes the internal ledger.
func (p *TargetDBProvisioner) Provision(ctx context.Context, cfg *models.WorkflowConfig, userEmail string) error {
	if cfg.TargetDBType == "" || cfg.TargetTable == "" {
		logrus.WithField("config_id", cfg.ConfigID).Info("No target datastore configured, skipping external provisioning")
		return nil
	}

	mappings := cfg.ColumnMappings.Data()
	if mappings.EmailColumn == "" || mappings.ActiveColumn == "" {
		return &Error{Msg: fmt.Sprintf("config %s has incomplete column mappings", cfg.ConfigID)}
	}

	db, err := p.open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
	}()

	db = db.WithContext(ctx)

	var count int64
	err = db.Table(cfg.TargetTable).
		Where(fmt.Sprintf("%s = ?", mappings.EmailColumn), userEmail).
		Count(&count).Error
	if err != nil {
		return &Error{Msg: "failed to query target table", Transient: true, Cause: err}
	}

	values := make(map[string]interface{}, len(mappings.Defaults)+2)
	for col, val := range mappings.Defaults {
		values[col] = val
	}
	values[mappings.ActiveColumn] = true

	if count > 0 {
		err = db.Table(cfg.TargetTable).
			Where(fmt.Sprintf("%s = ?", mappings.EmailColumn), userEmail).
			Updates(values).Error
	} else {
		values[mappings.EmailColumn] = userEmail
		err = db.Table(cfg.TargetTable).Create(values).Error
	}
	if err != nil {
		return &Error{Msg: "failed to write target table", Transient: true, Cause: err}
	}

	logrus.WithFields(logrus.Fields{
		"config_id": cfg.ConfigID,
		"table":     cfg.TargetTable,
	}).Infof("User %s provisioned in target datastore", userEmail)
	return nil
}

// open dials the target datastore described by the config.
func (p *TargetDBProvisioner) open(cfg *models.WorkflowConfig) (*gorm.DB, error) {
	target := cfg.TargetDBConfig.Data()
	gormCfg := &gorm.Config{Logger: logger.Discard}

	var dialector gorm.Dialector
	switch cfg.TargetDBType {
	case "postgresql", "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
			target.Host, target.User, target.Password, target.DBName, target.Port)
		dialector = postgres.Open(dsn)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			target.User, target.Password, target.Host, target.Port, target.DBName)
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(target.Path)
	default:
		return nil, &Error{Msg: fmt.Sprintf("unsupported target DB type: %s", cfg.TargetDBType)}
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, &Error{Msg: "failed to connect to target datastore", Transient: true, Cause: err}
	}
	return db, nil
}
