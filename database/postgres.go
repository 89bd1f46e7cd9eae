package database

import (
	"fmt"
	"log"

	"lightoflife/config"
	"lightoflife/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Postgres is the process-wide connection opened by Connect.
var Postgres *gorm.DB

// Connect opens the database selected by DB_DRIVER and migrates it.
func Connect() *gorm.DB {
	var err error
	switch config.Default("DB_DRIVER", "postgres") {
	case "sqlite":
		Postgres, err = SQLiteConnect(config.Default("SQLITE_PATH", "lightoflife.db"))
	default:
		Postgres, err = PostgresConnect()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to connect database: %v", err))
	}

	if err := Migrate(Postgres); err != nil {
		panic(fmt.Sprintf("failed to migrate database: %v", err))
	}
	log.Printf("Database migrated")
	return Postgres
}

func PostgresConnect() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.Config("POSTGRES_HOST"),
		config.Config("POSTGRES_PORT"),
		config.Config("POSTGRES_USER"),
		config.Config("POSTGRES_PASSWORD"),
		config.Config("POSTGRES_DB"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	log.Printf("Connection opened to Postgres")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Message{},
		&model.Group{},
		&model.GroupMember{},
		&model.GroupMessage{},
		&model.PinnedMessage{},
		&model.GroupPresence{},
		&model.Call{},
	)
}
