package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"dax/models"
)

// Config 描述資料庫連線方式
// Host 非空時使用 PostgreSQL，否則落到內嵌的 SQLite(純Go驅動)
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string

	SQLitePath string
}

// Open 建立資料庫連線並完成資料表遷移
func Open(config Config) (*gorm.DB, error) {
	const op = "storage.Open"

	var db *gorm.DB
	var err error
	if config.Host != "" {
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.User, config.Password, config.Host, config.Port, config.Database, config.Schema)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			NamingStrategy: schema.NamingStrategy{
				TablePrefix: config.Schema + ".",
			},
		})
	} else {
		path := config.SQLitePath
		if path == "" {
			path = filepath.Join("data", "dax.db")
		}
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				return nil, fmt.Errorf("[%s] Fail to create database directory, err=%w", op, mkErr)
			}
		}
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}
	return db, nil
}

// Migrate 建立或更新所有資料表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Auction{},
		&models.Bid{},
		&models.TokenBalance{},
		&models.TokenAllowance{},
		&models.CurrencyAccount{},
	)
}
