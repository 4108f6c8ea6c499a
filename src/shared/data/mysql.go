package data

import (
	"log"

	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func MustMySQL(dsn string) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	return db
}

// Migrate creates or updates the bot's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&gov.User{},
		&gov.Subscription{},
		&gov.ProposalSnapshot{},
		&gov.Dao{},
		&gov.Setting{},
	)
}
