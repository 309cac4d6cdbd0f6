// Package store provides database access for deliveries and receipts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

type DeliveryStore struct {
	db *gorm.DB
}

func NewDeliveryStore(gdb *gorm.DB) *DeliveryStore {
	return &DeliveryStore{db: gdb}
}

func (ds *DeliveryStore) RecordDeferred(ctx context.Context, ep transport.Endpoint, path, identity string) (string, error) {
	delivery := db.Delivery{
		ID:       uuid.NewString(),
		Host:     ep.Host,
		Port:     ep.Port,
		Path:     path,
		Identity: identity,
		Status:   db.StatusPending,
	}
	if err := ds.db.WithContext(ctx).Create(&delivery).Error; err != nil {
		return "", fmt.Errorf("recording delivery: %w", err)
	}
	return delivery.ID, nil
}

func (ds *DeliveryStore) SetPID(ctx context.Context, id string, pid int) error {
	return ds.update(ctx, id, map[string]any{"pid": pid})
}

func (ds *DeliveryStore) SetStatus(ctx context.Context, id string, status db.DeliveryStatus, attempts int, lastErr string) error {
	fields := map[string]any{
		"status":     status,
		"attempts":   attempts,
		"last_error": lastErr,
	}
	if status == db.StatusDelivered {
		fields["delivered_at"] = time.Now()
	}
	return ds.update(ctx, id, fields)
}

func (ds *DeliveryStore) update(ctx context.Context, id string, fields map[string]any) error {
	res := ds.db.WithContext(ctx).Model(&db.Delivery{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("updating delivery %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	return nil
}

func (ds *DeliveryStore) Get(ctx context.Context, id string) (db.Delivery, error) {
	var delivery db.Delivery
	err := ds.db.WithContext(ctx).First(&delivery, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Delivery{}, fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	return delivery, err
}

func (ds *DeliveryStore) List(ctx context.Context) ([]db.Delivery, error) {
	var deliveries []db.Delivery
	err := ds.db.WithContext(ctx).Order("created_at desc").Find(&deliveries).Error
	return deliveries, err
}

// Unfinished returns deliveries that may still need a delivery process.
func (ds *DeliveryStore) Unfinished(ctx context.Context) ([]db.Delivery, error) {
	var deliveries []db.Delivery
	err := ds.db.WithContext(ctx).
		Where("status NOT IN ?", []db.DeliveryStatus{db.StatusDelivered, db.StatusFailed}).
		Order("created_at asc").
		Find(&deliveries).Error
	return deliveries, err
}

type ReceiptStore struct {
	db *gorm.DB
}

func NewReceiptStore(gdb *gorm.DB) *ReceiptStore {
	return &ReceiptStore{db: gdb}
}

func (rs *ReceiptStore) RecordReceipt(ctx context.Context, info transport.TransferInfo, storedPath string) error {
	return rs.db.WithContext(ctx).Create(&db.Receipt{
		FileName:   info.Name,
		Sender:     info.Sender,
		Size:       info.Size,
		StoredPath: storedPath,
		RemoteAddr: info.RemoteAddr,
		ReceivedAt: time.Now(),
	}).Error
}

func (rs *ReceiptStore) List(ctx context.Context) ([]db.Receipt, error) {
	var receipts []db.Receipt
	err := rs.db.WithContext(ctx).Order("received_at desc").Find(&receipts).Error
	return receipts, err
}

var (
	_ DeliveryRepository        = (*DeliveryStore)(nil)
	_ ReceiptRepository         = (*ReceiptStore)(nil)
	_ transport.ReceiptRecorder = (*ReceiptStore)(nil)
)
