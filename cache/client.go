package cache

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tarungka/weave/buffer"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/internal/utils"
)

// Client is the row-level view of a Store: rows are keyed by their id
// (big-endian, so Scan yields ascending id order) and encoded with msgpack.
type Client struct {
	store  Store
	count  atomic.Int64
	logger zerolog.Logger
}

// NewClient wraps a store.
func NewClient(store Store) *Client {
	return &Client{
		store:  store,
		logger: logger.GetLogger("cache"),
	}
}

func rowKey(id int64) []byte {
	return utils.ConvertUint64ToBytes(uint64(id))
}

// Put stores rows by id. Rows already present are left alone, so replays over
// the same ids do not inflate the count.
func (c *Client) Put(rows []buffer.Row) error {
	for _, r := range rows {
		key := rowKey(r.ID)
		if _, err := c.store.Get(key); err == nil {
			continue
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		enc, err := utils.EncodeMsgPack(r)
		if err != nil {
			return fmt.Errorf("cache: encode row %d: %w", r.ID, err)
		}
		if err := c.store.Set(key, enc.Bytes()); err != nil {
			return fmt.Errorf("cache: store row %d: %w", r.ID, err)
		}
		c.count.Add(1)
	}
	return nil
}

// GetByID fetches rows in the order the ids are given.
func (c *Client) GetByID(ids []int64) ([]buffer.Row, error) {
	rows := make([]buffer.Row, 0, len(ids))
	for _, id := range ids {
		val, err := c.store.Get(rowKey(id))
		if err != nil {
			return nil, fmt.Errorf("cache: row %d: %w", id, err)
		}
		var r buffer.Row
		if err := utils.DecodeMsgPack(val, &r); err != nil {
			return nil, fmt.Errorf("cache: decode row %d: %w", id, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Scan returns up to limit rows in ascending id order starting at fromID, and
// the id to continue from. next is -1 once the scan is exhausted.
func (c *Client) Scan(fromID int64, limit int) (rows []buffer.Row, next int64, err error) {
	vals, nextKey, err := c.store.Scan(rowKey(fromID), limit)
	if err != nil {
		return nil, 0, err
	}
	rows = make([]buffer.Row, 0, len(vals))
	for _, val := range vals {
		var r buffer.Row
		if err := utils.DecodeMsgPack(val, &r); err != nil {
			return nil, 0, fmt.Errorf("cache: decode scanned row: %w", err)
		}
		rows = append(rows, r)
	}
	if nextKey == nil {
		return rows, -1, nil
	}
	return rows, int64(utils.ConvertBytesToUint64(nextKey)), nil
}

// Len returns the number of distinct rows stored.
func (c *Client) Len() int64 { return c.count.Load() }

// SizeOnDisk reports the bytes the backing store occupies.
func (c *Client) SizeOnDisk() (int64, error) { return c.store.SizeOnDisk() }

// Close releases the underlying store.
func (c *Client) Close() error { return c.store.Close() }
