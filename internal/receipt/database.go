package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var receiptsBucket = []byte("receipts")

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt creates or replaces a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(receiptsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	if receipt.ID == "" {
		return fmt.Errorf("%w: missing id", ErrValidation)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return tx.Bucket(receiptsBucket).Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(receiptsBucket).Get([]byte(id))
		if data == nil {
			return notFound(id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts in key order
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(receiptsBucket).ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt %s: %w", k, err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt, failing with ErrNotFound if it is absent
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(receiptsBucket)
		if bucket.Get([]byte(id)) == nil {
			return notFound(id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func notFound(id string) error {
	return fmt.Errorf("%w: receipt %s", ErrNotFound, id)
}
