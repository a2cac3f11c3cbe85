package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"mpi/internal/registry"
	"mpi/internal/registry/batch"
	"mpi/pkg/domain"
	"mpi/pkg/platform/sentinel"
)

// PostgresStore persists the registry in PostgreSQL. ExecuteBatch runs the
// whole op list inside one transaction, which serves as the platform's
// atomic multi-table batch primitive. Row-level last-write-wins is enforced in
// SQL: every upsert and tombstone is guarded by the explicit write timestamp,
// so replayed or reordered batches can never regress a row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS patients (
	health_id     TEXT PRIMARY KEY,
	record        JSONB NOT NULL,
	catchment_ids TEXT[] NOT NULL DEFAULT '{}',
	write_time    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS catchment_mappings (
	catchment_id TEXT NOT NULL,
	updated_at   CHAR(32) NOT NULL,
	health_id    TEXT NOT NULL,
	write_time   BIGINT NOT NULL,
	dead         BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (catchment_id, updated_at, health_id)
);

CREATE TABLE IF NOT EXISTS pending_approval_mappings (
	catchment_id      TEXT NOT NULL,
	latest_pending_at CHAR(32) NOT NULL,
	health_id         TEXT NOT NULL,
	write_time        BIGINT NOT NULL,
	dead              BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (catchment_id, latest_pending_at, health_id)
);

CREATE TABLE IF NOT EXISTS patient_update_log (
	year     INT NOT NULL,
	event_id CHAR(32) NOT NULL,
	health_id TEXT NOT NULL,
	entry    JSONB NOT NULL,
	PRIMARY KEY (year, event_id)
);

CREATE TABLE IF NOT EXISTS patient_audit_log (
	health_id TEXT NOT NULL,
	event_id  CHAR(32) NOT NULL,
	entry     JSONB NOT NULL,
	PRIMARY KEY (health_id, event_id)
);

CREATE TABLE IF NOT EXISTS feed_markers (
	marker_type TEXT PRIMARY KEY,
	created_at  CHAR(32) NOT NULL,
	value       TEXT NOT NULL,
	write_time  BIGINT NOT NULL
);
`

// EnsureSchema creates the registry tables when absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}

// ExecuteBatch applies every op in one transaction.
func (s *PostgresStore) ExecuteBatch(ctx context.Context, ops []batch.Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) applyOp(ctx context.Context, tx *sql.Tx, op batch.Op) error {
	switch o := op.(type) {
	case batch.UpsertPatient:
		payload, err := json.Marshal(o.Record)
		if err != nil {
			return fmt.Errorf("marshal patient %s: %w", o.Record.HealthID, err)
		}
		var catchmentIDs []string
		if c, ok := o.Record.Catchment(); ok {
			catchmentIDs = c.AllIDs()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patients (health_id, record, catchment_ids, write_time)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (health_id) DO UPDATE
			SET record = EXCLUDED.record,
			    catchment_ids = EXCLUDED.catchment_ids,
			    write_time = EXCLUDED.write_time
			WHERE patients.write_time <= EXCLUDED.write_time
		`, string(o.Record.HealthID), payload, pq.Array(catchmentIDs), o.WriteTime())
		if err != nil {
			return fmt.Errorf("upsert patient %s: %w", o.Record.HealthID, err)
		}
	case batch.PutCatchmentMapping:
		return s.writeMapping(ctx, tx, "catchment_mappings", "updated_at",
			o.Row.CatchmentID, o.Row.UpdatedAt, o.Row.HealthID, o.WriteTime(), false)
	case batch.TombstoneCatchmentMapping:
		return s.writeMapping(ctx, tx, "catchment_mappings", "updated_at",
			o.Row.CatchmentID, o.Row.UpdatedAt, o.Row.HealthID, o.WriteTime(), true)
	case batch.PutPendingMapping:
		return s.writeMapping(ctx, tx, "pending_approval_mappings", "latest_pending_at",
			o.Row.CatchmentID, o.Row.LatestPendingAt, o.Row.HealthID, o.WriteTime(), false)
	case batch.TombstonePendingMapping:
		return s.writeMapping(ctx, tx, "pending_approval_mappings", "latest_pending_at",
			o.Row.CatchmentID, o.Row.LatestPendingAt, o.Row.HealthID, o.WriteTime(), true)
	case batch.AppendAuditLog:
		payload, err := json.Marshal(o.Entry)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", o.Entry.EventID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patient_audit_log (health_id, event_id, entry)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, string(o.Entry.HealthID), o.Entry.EventID.String(), payload)
		if err != nil {
			return fmt.Errorf("append audit log %s: %w", o.Entry.EventID, err)
		}
	case batch.AppendUpdateLog:
		payload, err := json.Marshal(o.Entry)
		if err != nil {
			return fmt.Errorf("marshal update entry %s: %w", o.Entry.EventID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patient_update_log (year, event_id, health_id, entry)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, o.Entry.Year(), o.Entry.EventID.String(), string(o.Entry.HealthID), payload)
		if err != nil {
			return fmt.Errorf("append update log %s: %w", o.Entry.EventID, err)
		}
	case batch.PutMarker:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_markers (marker_type, created_at, value, write_time)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (marker_type) DO UPDATE
			SET created_at = EXCLUDED.created_at,
			    value = EXCLUDED.value,
			    write_time = EXCLUDED.write_time
			WHERE feed_markers.write_time <= EXCLUDED.write_time
		`, o.Marker.Type, o.Marker.CreatedAt.String(), o.Marker.Value, o.WriteTime())
		if err != nil {
			return fmt.Errorf("put marker %s: %w", o.Marker.Type, err)
		}
	default:
		return fmt.Errorf("postgres store: unsupported op %T", op)
	}
	return nil
}

func (s *PostgresStore) writeMapping(ctx context.Context, tx *sql.Tx, table, idColumn, catchmentID string, id domain.EventID, hid domain.HealthID, writeTime int64, dead bool) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (catchment_id, %s, health_id, write_time, dead)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (catchment_id, %s, health_id) DO UPDATE
		SET write_time = EXCLUDED.write_time, dead = EXCLUDED.dead
		WHERE %s.write_time <= EXCLUDED.write_time
	`, table, idColumn, idColumn, table)
	if _, err := tx.ExecContext(ctx, query, catchmentID, id.String(), string(hid), writeTime, dead); err != nil {
		return fmt.Errorf("write %s row %s/%s: %w", table, catchmentID, id, err)
	}
	return nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, hid domain.HealthID) (*registry.PatientRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM patients WHERE health_id = $1`, string(hid)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", hid, err)
	}
	var rec registry.PatientRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode patient %s: %w", hid, err)
	}
	return &rec, nil
}

func (s *PostgresStore) CatchmentMappings(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.CatchmentMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT catchment_id, updated_at, health_id
		FROM catchment_mappings
		WHERE catchment_id = $1 AND updated_at > $2 AND NOT dead
		ORDER BY updated_at ASC
		LIMIT CASE WHEN $3 > 0 THEN $3 ELSE NULL END
	`, catchmentID, after.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("scan catchment mappings %s: %w", catchmentID, err)
	}
	defer rows.Close()

	var out []registry.CatchmentMapping
	for rows.Next() {
		var row registry.CatchmentMapping
		var rawID string
		if err := rows.Scan(&row.CatchmentID, &rawID, &row.HealthID); err != nil {
			return nil, fmt.Errorf("scan catchment mapping row: %w", err)
		}
		if row.UpdatedAt, err = domain.ParseEventID(rawID); err != nil {
			return nil, fmt.Errorf("decode catchment mapping id %q: %w", rawID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PendingMappings(ctx context.Context, catchmentID string, after domain.EventID, limit int) ([]registry.PendingApprovalMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT catchment_id, latest_pending_at, health_id
		FROM pending_approval_mappings
		WHERE catchment_id = $1 AND latest_pending_at > $2 AND NOT dead
		ORDER BY latest_pending_at ASC
		LIMIT CASE WHEN $3 > 0 THEN $3 ELSE NULL END
	`, catchmentID, after.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("scan pending mappings %s: %w", catchmentID, err)
	}
	defer rows.Close()

	var out []registry.PendingApprovalMapping
	for rows.Next() {
		var row registry.PendingApprovalMapping
		var rawID string
		if err := rows.Scan(&row.CatchmentID, &rawID, &row.HealthID); err != nil {
			return nil, fmt.Errorf("scan pending mapping row: %w", err)
		}
		if row.LatestPendingAt, err = domain.ParseEventID(rawID); err != nil {
			return nil, fmt.Errorf("decode pending mapping id %q: %w", rawID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateLog(ctx context.Context, year int, after domain.EventID, limit int) ([]registry.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry FROM patient_update_log
		WHERE year = $1 AND event_id > $2
		ORDER BY event_id ASC
		LIMIT CASE WHEN $3 > 0 THEN $3 ELSE NULL END
	`, year, after.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("scan update log %d: %w", year, err)
	}
	defer rows.Close()
	return decodeLogRows(rows)
}

func (s *PostgresStore) AuditLog(ctx context.Context, hid domain.HealthID) ([]registry.ChangeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry FROM patient_audit_log
		WHERE health_id = $1
		ORDER BY event_id ASC
	`, string(hid))
	if err != nil {
		return nil, fmt.Errorf("scan audit log %s: %w", hid, err)
	}
	defer rows.Close()
	return decodeLogRows(rows)
}

func decodeLogRows(rows *sql.Rows) ([]registry.ChangeLogEntry, error) {
	var out []registry.ChangeLogEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		var entry registry.ChangeLogEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode log row: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Marker(ctx context.Context, markerType string) (registry.Marker, error) {
	var m registry.Marker
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT marker_type, created_at, value FROM feed_markers WHERE marker_type = $1
	`, markerType).Scan(&m.Type, &rawID, &m.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Marker{}, sentinel.ErrNotFound
	}
	if err != nil {
		return registry.Marker{}, fmt.Errorf("get marker %s: %w", markerType, err)
	}
	if m.CreatedAt, err = domain.ParseEventID(rawID); err != nil {
		return registry.Marker{}, fmt.Errorf("decode marker id %q: %w", rawID, err)
	}
	return m, nil
}
