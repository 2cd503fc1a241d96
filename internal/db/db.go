package db

import (
	"fmt"
	"time"

	"groupchat/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 按驱动建立数据库连接。Postgres 带有简单的重试来等待容器就绪；
// SQLite（纯 Go 实现）用于本地开发与测试，只保留一个连接以共享 :memory: 库。
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite":
		return connectSQLite(dsn)
	case "", "postgres":
		return connectPostgres(dsn)
	}
	return nil, fmt.Errorf("db: unsupported driver %q", driver)
}

func connectPostgres(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func connectSQLite(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// Migrate 自动迁移全部六个实体集合以及 refresh token 表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Channel{},
		&models.Membership{},
		&models.Message{},
		&models.Ban{},
		&models.RefreshToken{},
	)
}
