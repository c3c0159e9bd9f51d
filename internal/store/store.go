// Package store is the durable, embedded state layer backing jobs,
// work units, workers, and logs. It wraps go.etcd.io/bbolt, an
// embedded B+tree key/value store with its own write-ahead log, giving
// concurrent readers and a single writer per process. Every mutating
// call runs inside one bbolt transaction so a failed invariant check
// rolls the whole write back.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketJobs          = []byte("jobs")
	bucketJobsByCreated  = []byte("jobs_by_created")
	bucketWorkUnits      = []byte("work_units")
	bucketUnitsByJob     = []byte("work_units_by_job") // nested: one sub-bucket per job id
	bucketWorkers        = []byte("workers")
	bucketWorkersByJob   = []byte("workers_by_job") // nested: one sub-bucket per job id
	bucketLogs           = []byte("logs")
	bucketMeta           = []byte("meta")
)

const schemaVersionKey = "schema_version"
const currentSchemaVersion = 1

// Store is the single handle through which the Orchestrator, every
// Supervisor, and the read-only HTTP API touch durable state. Each
// process that wants to mutate jobs opens its own Store handle against
// the same file; bbolt serializes writers across handles via its file
// lock, so concurrent mutating calls serialize deterministically.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the store at path and runs the
// self-migration pass described below.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{
			bucketJobs, bucketJobsByCreated, bucketWorkUnits, bucketUnitsByJob,
			bucketWorkers, bucketWorkersByJob, bucketLogs, bucketMeta,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return migrate(tx)
	})
}

// migrate stamps a schema_version marker for operators inspecting the
// file. It does not rewrite stored records on open: json.Unmarshal
// into the live Go struct zero-fills fields a record lacks and drops
// unknown ones, so a record read after a struct change carries the
// new fields with their zero value, and its on-disk shape is updated
// the next time it is written.
func migrate(tx *bbolt.Tx) error {
	meta := tx.Bucket(bucketMeta)
	existing := meta.Get([]byte(schemaVersionKey))
	if existing != nil {
		var v int
		if err := json.Unmarshal(existing, &v); err == nil && v >= currentSchemaVersion {
			return nil
		}
	}
	return meta.Put([]byte(schemaVersionKey), mustJSON(currentSchemaVersion))
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func createdIndexKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", t.UnixNano(), id))
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status JobStatus // empty matches any
}

// CreateJob persists a new Job. Fails with ErrInvariantViolation if a
// job with the same id already exists.
func (s *Store) CreateJob(j *Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.Version = 1

	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		if jobs.Get([]byte(j.ID)) != nil {
			return fmt.Errorf("job %s: %w", j.ID, errInvariant("job already exists"))
		}
		if err := putJSON(jobs, []byte(j.ID), j); err != nil {
			return err
		}
		return tx.Bucket(bucketJobsByCreated).Put(createdIndexKey(j.CreatedAt, j.ID), []byte(j.ID))
	})
}

// UpdateJob persists changes to an existing Job, enforcing its field
// invariants and an optimistic-version check. The caller's in-memory
// copy must carry the version last read from the store; on success
// Version is bumped in place.
func (s *Store) UpdateJob(j *Job) error {
	if err := validateJobInvariants(j); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		raw := jobs.Get([]byte(j.ID))
		if raw == nil {
			return fmt.Errorf("job %s: %w", j.ID, errNotFound("job"))
		}
		var existing Job
		if err := json.Unmarshal(raw, &existing); err != nil {
			return fmt.Errorf("decode existing job: %w", err)
		}
		if existing.Version != j.Version {
			return fmt.Errorf("job %s: %w", j.ID, errStale())
		}
		j.Version = existing.Version + 1
		return putJSON(jobs, []byte(j.ID), j)
	})
}

func validateJobInvariants(j *Job) error {
	if j.CompletedUnits+j.FailedUnits > j.TotalUnits {
		return fmt.Errorf("job %s: completed+failed exceeds total: %w", j.ID, errInvariant("completed_units+failed_units > total_units"))
	}
	if !j.StartedAt.IsZero() && !j.CompletedAt.IsZero() && j.StartedAt.After(j.CompletedAt) {
		return fmt.Errorf("job %s: %w", j.ID, errInvariant("started_at after completed_at"))
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	var j Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketJobs).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("job %s: %w", id, errNotFound("job"))
		}
		return json.Unmarshal(raw, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *Store) ListJobs(filter JobFilter, limit, offset int) ([]*Job, error) {
	var out []*Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		idx := tx.Bucket(bucketJobsByCreated)

		var ids []string
		c := idx.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			ids = append(ids, string(v))
		}

		skipped := 0
		for _, id := range ids {
			raw := jobs.Get([]byte(id))
			if raw == nil {
				continue
			}
			var j Job
			if err := json.Unmarshal(raw, &j); err != nil {
				return err
			}
			if filter.Status != "" && j.Status != filter.Status {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, &j)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.Put(key, data)
}
