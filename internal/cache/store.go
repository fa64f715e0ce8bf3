// Package cache provides the engine's on-disk caches: one SQLite database
// holding embedding vectors and judge verdicts, both LRU-evicted by access
// time, plus a store for persisted run results. Callers treat every cache
// operation as best-effort: a miss or an error falls through to a live call.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// touchFlushInterval is how often buffered accessed_at updates are
	// flushed to SQLite.
	touchFlushInterval = 5 * time.Second
	// touchFlushThreshold triggers an early flush when the pending map
	// reaches this size.
	touchFlushThreshold = 64
)

// touchKey identifies one row whose accessed_at update is pending.
type touchKey struct {
	table string
	hash  string
	model string
}

// Store is an LRU-evicting SQLite-backed cache for embedding vectors and
// judge verdicts. Reads buffer their accessed_at updates and flush them in
// batches so hot lookups stay read-only.
type Store struct {
	db    *sql.DB
	maxMB int

	pendingTouch sync.Map // map[touchKey]int64 (UnixNano)
	pendingLen   atomic.Int64
	stopFlush    chan struct{}
	flushDone    chan struct{}
}

// Stats reports current usage of the store.
type Stats struct {
	EmbeddingEntries int
	VerdictEntries   int
	TotalBytes       int64
}

// Open opens (or creates) the cache database at dbPath. maxMB bounds each
// table's payload size before LRU eviction triggers.
func Open(dbPath string, maxMB int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			content_hash TEXT NOT NULL,
			model        TEXT NOT NULL,
			vector       BLOB NOT NULL,
			created_at   INTEGER NOT NULL,
			accessed_at  INTEGER NOT NULL,
			PRIMARY KEY (content_hash, model)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create embeddings table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_embeddings_accessed ON embeddings(accessed_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create embeddings index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS verdicts (
			content_hash TEXT NOT NULL PRIMARY KEY,
			model        TEXT NOT NULL,
			score        REAL NOT NULL,
			reason       TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			accessed_at  INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create verdicts table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_verdicts_accessed ON verdicts(accessed_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create verdicts index: %w", err)
	}

	s := &Store{
		db:        db,
		maxMB:     maxMB,
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}

	go s.flushLoop()

	return s, nil
}

// DB exposes the underlying handle so sibling stores can share the database.
func (s *Store) DB() *sql.DB { return s.db }

// ContentHash returns the SHA-256 hex digest of the given text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// touch buffers an accessed_at update for the given row.
func (s *Store) touch(table, hash, model string) {
	s.pendingTouch.Store(touchKey{table: table, hash: hash, model: model}, time.Now().UnixNano())
	if n := s.pendingLen.Add(1); n >= touchFlushThreshold {
		go s.FlushTouches()
	}
}

// flushLoop periodically writes buffered accessed_at updates to SQLite.
func (s *Store) flushLoop() {
	defer close(s.flushDone)
	ticker := time.NewTicker(touchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.FlushTouches()
		case <-s.stopFlush:
			s.FlushTouches()
			return
		}
	}
}

// FlushTouches writes all pending accessed_at updates in one transaction.
func (s *Store) FlushTouches() {
	if s.pendingLen.Load() == 0 {
		return
	}

	type entry struct {
		key touchKey
		ts  int64
	}
	var entries []entry
	s.pendingTouch.Range(func(k, v any) bool {
		entries = append(entries, entry{key: k.(touchKey), ts: v.(int64)})
		s.pendingTouch.Delete(k)
		return true
	})
	s.pendingLen.Store(0)

	if len(entries) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		return
	}

	embStmt, err := tx.Prepare(`UPDATE embeddings SET accessed_at = ? WHERE content_hash = ? AND model = ?`)
	if err != nil {
		tx.Rollback()
		return
	}
	defer embStmt.Close()
	verStmt, err := tx.Prepare(`UPDATE verdicts SET accessed_at = ? WHERE content_hash = ?`)
	if err != nil {
		tx.Rollback()
		return
	}
	defer verStmt.Close()

	for _, e := range entries {
		switch e.key.table {
		case "embeddings":
			_, _ = embStmt.Exec(e.ts, e.key.hash, e.key.model)
		case "verdicts":
			_, _ = verStmt.Exec(e.ts, e.key.hash)
		}
	}

	_ = tx.Commit()
}

// Stats returns current entry counts and total payload bytes.
func (s *Store) Stats() (*Stats, error) {
	var stats Stats
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(vector)), 0) FROM embeddings`)
	var embBytes int64
	if err := row.Scan(&stats.EmbeddingEntries, &embBytes); err != nil {
		return nil, fmt.Errorf("embeddings stats: %w", err)
	}
	row = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(reason)), 0) FROM verdicts`)
	var verBytes int64
	if err := row.Scan(&stats.VerdictEntries, &verBytes); err != nil {
		return nil, fmt.Errorf("verdicts stats: %w", err)
	}
	stats.TotalBytes = embBytes + verBytes
	return &stats, nil
}

// Clear removes all cached entries from both tables.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM verdicts`); err != nil {
		return fmt.Errorf("clear verdicts: %w", err)
	}
	return nil
}

// Close flushes pending touches, stops the background flush loop, and
// releases the database connection.
func (s *Store) Close() error {
	close(s.stopFlush)
	<-s.flushDone
	return s.db.Close()
}

// evictTable removes least-recently-used rows from the named table until its
// payload is under maxMB. sizeExpr is a SQL expression estimating one row's
// payload bytes.
func (s *Store) evictTable(table, sizeExpr string) error {
	// Flush pending touches first so accessed_at values are current.
	s.FlushTouches()

	maxBytes := int64(s.maxMB) * 1024 * 1024

	row := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(%s), 0) FROM %s`, sizeExpr, table))
	var totalCount, totalBytes int64
	if err := row.Scan(&totalCount, &totalBytes); err != nil {
		return fmt.Errorf("evict size check: %w", err)
	}

	if totalBytes <= maxBytes || totalCount == 0 {
		return nil
	}

	// Estimate rows to delete assuming uniform payload size, with 10%
	// headroom to avoid repeated small evictions.
	avgSize := totalBytes / totalCount
	deleteCount := (totalBytes - maxBytes) / avgSize
	if deleteCount < 1 {
		deleteCount = 1
	}
	deleteCount += deleteCount / 10
	if deleteCount > totalCount {
		deleteCount = totalCount
	}

	_, err := s.db.Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s ORDER BY accessed_at ASC LIMIT ?)`, table, table),
		deleteCount,
	)
	if err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	return nil
}
