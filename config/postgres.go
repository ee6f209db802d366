package config

import (
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var PostgresDB *gorm.DB

func InitPostgres(s PostgresSettings) error {
	if s.URI == "" {
		return errors.New("postgres.uri is not set (CALLGUARD_POSTGRES__URI)")
	}
	db, err := gorm.Open(postgres.Open(s.URI), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// Connection Pooling settings
	sqlDB.SetMaxIdleConns(s.MaxIdleConns)
	sqlDB.SetMaxOpenConns(s.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(s.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return err
	}

	PostgresDB = db
	return nil
}
