package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusPolling    DeliveryStatus = "polling"
	StatusConnecting DeliveryStatus = "connecting"
	StatusSending    DeliveryStatus = "sending"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusFailed     DeliveryStatus = "failed"
	StatusCancelled  DeliveryStatus = "cancelled"
)

// Terminal reports whether a delivery in this status will never be retried.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Delivery is a send that was handed off to a background delivery process.
type Delivery struct {
	ID          string `gorm:"primaryKey"`
	Host        string
	Port        int
	Path        string
	Identity    string
	Status      DeliveryStatus `gorm:"index"`
	Attempts    int
	PID         int `gorm:"column:pid"`
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
}

// Receipt is a completed inbound transfer.
type Receipt struct {
	ID         uint `gorm:"primaryKey"`
	FileName   string
	Sender     string
	Size       int64
	StoredPath string
	RemoteAddr string
	ReceivedAt time.Time
}

// Open opens (creating if needed) the sqlite database at path and migrates
// it. Use ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The listener and any number of delivery processes share one file, so
	// each process keeps a single connection and waits on locks.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := db.AutoMigrate(&Delivery{}, &Receipt{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
