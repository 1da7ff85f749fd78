package db

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the MySQL database. dsn must carry parseTime=True.
func Connect(dsn string, log *logrus.Logger) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), gormConfig(log))
}

func gormConfig(log *logrus.Logger) *gorm.Config {
	cfg := &gorm.Config{
		TranslateError: true,
	}
	if log != nil {
		cfg.Logger = logger.New(log, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	return cfg
}

// Sync creates or migrates the tables.
func Sync(db *gorm.DB) error {
	return db.AutoMigrate(&PaymentMessage{})
}
