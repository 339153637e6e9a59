package store

import (
	stdlog "log"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to MySQL with gorm, sending SQL logs through zerolog.
func Open(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormLogger := logger.New(
		stdlog.New(log.Logger, "", 0),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
}

// AutoMigrate creates or updates the tables the worker writes.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Document{}, &DocumentOperation{}, &DocumentActivity{})
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
