package db

import (
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Connect opens the panel database. Sqlite is the default; set DB_DRIVER=mysql
// and DB_DSN to run against mysql instead.
func Connect() {
	var err error

	switch os.Getenv("DB_DRIVER") {
	case "mysql":
		dsn := os.Getenv("DB_DSN")
		DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		path := os.Getenv("DB_PATH")
		if path == "" {
			path = "./vpn.db"
		}
		DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	}

	if err != nil {
		panic(err)
	}
}

func Sync() {
	err := DB.AutoMigrate(&Client{}, &TrafficLog{}, &ExtensionRequest{})
	if err != nil {
		panic(err)
	}
}
