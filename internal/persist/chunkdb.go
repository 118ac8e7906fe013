package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ChunkCache is the on-disk terrain cache: chunks the server already sent
// come back instantly on revisit instead of round-tripping again. Terrain
// grids are stored as zstd-compressed JSON blobs keyed by chunk coordinate.
//
// Writes go through an async writer goroutine so the reconciler's tick
// never waits on disk; Get is synchronous.
type ChunkCache struct {
	db *sql.DB

	ch     chan chunkRow
	wg     sync.WaitGroup
	closed atomic.Bool

	enc *zstd.Encoder
	dec *zstd.Decoder

	log *zap.Logger
}

type chunkRow struct {
	cx, cz  int
	water   float64
	terrain [][]float64
}

// Open creates or opens the cache database at path.
func Open(path string, log *zap.Logger) (*ChunkCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache pragma: %w", err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS chunks (
		cx INTEGER NOT NULL,
		cz INTEGER NOT NULL,
		water REAL NOT NULL,
		terrain BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (cx, cz)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	c := &ChunkCache{
		db:  db,
		ch:  make(chan chunkRow, 256),
		enc: enc,
		dec: dec,
		log: log,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	return c, nil
}

// Put queues one chunk for storage. Never blocks: if the writer is behind,
// the row is dropped — the cache is an optimization, not a ledger.
func (c *ChunkCache) Put(cx, cz int, terrain [][]float64, water float64) {
	if c.closed.Load() || len(terrain) == 0 {
		return
	}
	select {
	case c.ch <- chunkRow{cx: cx, cz: cz, water: water, terrain: terrain}:
	default:
		c.log.Debug("快取寫入佇列已滿，丟棄區塊",
			zap.Int("cx", cx), zap.Int("cz", cz))
	}
}

// Get loads one cached chunk. The second return is false on a cache miss.
func (c *ChunkCache) Get(cx, cz int) ([][]float64, float64, bool, error) {
	var water float64
	var blob []byte
	err := c.db.QueryRow(
		`SELECT water, terrain FROM chunks WHERE cx = ? AND cz = ?`, cx, cz,
	).Scan(&water, &blob)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("cache get %d_%d: %w", cx, cz, err)
	}

	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, 0, false, fmt.Errorf("cache decompress %d_%d: %w", cx, cz, err)
	}
	var terrain [][]float64
	if err := json.Unmarshal(raw, &terrain); err != nil {
		return nil, 0, false, fmt.Errorf("cache parse %d_%d: %w", cx, cz, err)
	}
	return terrain, water, true, nil
}

// Close drains pending writes and closes the database.
func (c *ChunkCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.ch)
	c.wg.Wait()
	c.enc.Close()
	c.dec.Close()
	return c.db.Close()
}

// writeLoop batches queued rows into one transaction at a time.
func (c *ChunkCache) writeLoop() {
	for row := range c.ch {
		batch := []chunkRow{row}
	more:
		for len(batch) < 32 {
			select {
			case r, open := <-c.ch:
				if !open {
					break more
				}
				batch = append(batch, r)
			default:
				break more
			}
		}
		if err := c.flush(batch); err != nil {
			c.log.Warn("區塊快取寫入失敗", zap.Error(err))
		}
	}
}

func (c *ChunkCache) flush(batch []chunkRow) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, row := range batch {
		raw, err := json.Marshal(row.terrain)
		if err != nil {
			continue
		}
		blob := c.enc.EncodeAll(raw, nil)
		if _, err := tx.Exec(
			`INSERT INTO chunks (cx, cz, water, terrain, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(cx, cz) DO UPDATE SET
			   water = excluded.water,
			   terrain = excluded.terrain,
			   updated_at = excluded.updated_at`,
			row.cx, row.cz, row.water, blob, now,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
