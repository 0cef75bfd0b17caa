// internal/service/coupon/infrastructure/mysql.go
package infrastructure

import (
	"fmt"
	"time"

	sqlmysql "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// MysqlConfig 是连接 MySQL 需要的参数。
type MysqlConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// NewDB 打开 gorm 连接并迁移表结构。
func NewDB(cfg MysqlConfig) (*gorm.DB, error) {
	dsnCfg := sqlmysql.NewConfig()
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC

	db, err := gorm.Open(gormmysql.Open(dsnCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// 把驱动的重复键错误翻译成 gorm.ErrDuplicatedKey，仓储层依赖这个判断
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql at %s: %w", dsnCfg.Addr, err)
	}

	if err := db.AutoMigrate(&CouponTemplateModel{}, &CouponModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate coupon tables: %w", err)
	}
	return db, nil
}
