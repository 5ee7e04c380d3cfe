package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Category{},
		&Product{}, &ProductSupplier{},
		&Supplier{},
		&User{},
		&CbdArrival{}, &ArrivalProduct{},
		&StockEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
