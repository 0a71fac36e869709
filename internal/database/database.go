package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opentrade/order-service/internal/types"
)

// NewDatabase opens the SQLite store at path and migrates the order schema.
// TranslateError is enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey regardless of driver.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&types.Order{},
		&types.Execution{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
