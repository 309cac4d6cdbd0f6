package store

import (
	"context"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

// DeliveryRepository defines background delivery bookkeeping.
type DeliveryRepository interface {
	RecordDeferred(ctx context.Context, ep transport.Endpoint, path, identity string) (string, error)
	SetPID(ctx context.Context, id string, pid int) error
	SetStatus(ctx context.Context, id string, status db.DeliveryStatus, attempts int, lastErr string) error
	Get(ctx context.Context, id string) (db.Delivery, error)
	List(ctx context.Context) ([]db.Delivery, error)
	Unfinished(ctx context.Context) ([]db.Delivery, error)
}

// ReceiptRepository defines inbound transfer history.
type ReceiptRepository interface {
	RecordReceipt(ctx context.Context, info transport.TransferInfo, storedPath string) error
	List(ctx context.Context) ([]db.Receipt, error)
}
