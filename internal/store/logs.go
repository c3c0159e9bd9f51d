package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// AppendLog persists one structured log line.
func (s *Store) AppendLog(e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := createdIndexKey(e.Timestamp, uuid.NewString())
		return putJSON(tx.Bucket(bucketLogs), key, &e)
	})
}

// LogFilter narrows query_logs.
type LogFilter struct {
	JobID  string
	UnitID string
	Level  string
	Limit  int
}

// QueryLogs returns log entries matching filter, oldest first.
func (s *Store) QueryLogs(filter LogFilter) ([]LogEntry, error) {
	var out []LogEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if filter.JobID != "" && e.JobID != filter.JobID {
				continue
			}
			if filter.UnitID != "" && e.UnitID != filter.UnitID {
				continue
			}
			if filter.Level != "" && e.Level != filter.Level {
				continue
			}
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}
