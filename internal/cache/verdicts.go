package cache

import (
	"database/sql"
	"fmt"
	"time"
)

// verdictRowOverhead pads the reason length when estimating a verdict row's
// size for eviction.
const verdictRowOverhead = 100

// Verdict holds a cached judge result.
type Verdict struct {
	Score  float64
	Reason string
	Model  string
}

// VerdictKey derives the verdicts primary key from everything that shapes a
// judge call: the model, the rubric identity, and the graded content.
func VerdictKey(model, rubric, content string) string {
	return ContentHash(model + "\x00" + rubric + "\x00" + content)
}

// GetVerdict retrieves a cached judge verdict. Returns (nil, nil) on miss.
func (s *Store) GetVerdict(key string) (*Verdict, error) {
	row := s.db.QueryRow(
		`SELECT score, reason, model FROM verdicts WHERE content_hash = ?`,
		key,
	)

	var v Verdict
	if err := row.Scan(&v.Score, &v.Reason, &v.Model); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get verdict: %w", err)
	}

	s.touch("verdicts", key, "")

	return &v, nil
}

// PutVerdict stores a judge verdict, then evicts if the table is over the
// size limit.
func (s *Store) PutVerdict(key string, v *Verdict) error {
	now := time.Now().UnixNano()

	_, err := s.db.Exec(
		`INSERT INTO verdicts(content_hash, model, score, reason, created_at, accessed_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO UPDATE SET model=excluded.model, score=excluded.score, reason=excluded.reason, accessed_at=excluded.accessed_at`,
		key, v.Model, v.Score, v.Reason, now, now,
	)
	if err != nil {
		return fmt.Errorf("put verdict: %w", err)
	}

	return s.evictTable("verdicts", fmt.Sprintf("LENGTH(reason) + %d", verdictRowOverhead))
}
