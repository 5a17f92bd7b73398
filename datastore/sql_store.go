package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/segmentio/ksuid"

	"github.com/labkit/sweep-framework/pkg/logger"

	_ "github.com/lib/pq" // production driver
)

// Schema fixtures executed by Init. Timestamps are stored as RFC 3339 text
// so the schema works on both postgres and ramsql.
const (
	schemaExperiments = `CREATE TABLE IF NOT EXISTS experiments (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		sample_name TEXT NOT NULL,
		run_counter INT NOT NULL,
		started_at TEXT NOT NULL
	)`

	schemaRuns = `CREATE TABLE IF NOT EXISTS runs (
		id BIGSERIAL PRIMARY KEY,
		guid TEXT NOT NULL,
		experiment_id INT NOT NULL,
		counter INT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	)`

	schemaRunParameters = `CREATE TABLE IF NOT EXISTS run_parameters (
		id BIGSERIAL PRIMARY KEY,
		run_id INT NOT NULL,
		idx INT NOT NULL,
		name TEXT NOT NULL,
		unit TEXT NOT NULL,
		label TEXT NOT NULL,
		arity INT NOT NULL,
		depends_on TEXT NOT NULL
	)`

	schemaResults = `CREATE TABLE IF NOT EXISTS results (
		id BIGSERIAL PRIMARY KEY,
		run_id INT NOT NULL,
		parameter TEXT NOT NULL,
		sample_idx INT NOT NULL,
		value TEXT NOT NULL
	)`
)

const pingAttempts = 5

// SQLStore is a Store backed by a database/sql handle. Values are stored
// JSON-encoded so vector samples survive round trips on any backend.
type SQLStore struct {
	db   *sql.DB
	lggr logger.Logger
}

// SQLStore implements the Store interface.
var _ Store = &SQLStore{}

// NewSQLStore wraps an existing database handle.
func NewSQLStore(lggr logger.Logger, db *sql.DB) *SQLStore {
	return &SQLStore{db: db, lggr: lggr.Named("sqlstore")}
}

// OpenSQL opens a database handle for the given driver and DSN and verifies
// connectivity with a bounded retrying ping, so a store that is still
// starting up does not fail the first caller.
func OpenSQL(ctx context.Context, lggr logger.Logger, driverName, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driverName, err)
	}

	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(pingAttempts),
		retry.OnRetry(func(attempt uint, err error) {
			lggr.Warnw("Store ping failed. Retrying...", "driver", driverName, "attempt", attempt, "error", err)
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s store: %w", driverName, err)
	}

	return NewSQLStore(lggr, db), nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Init creates the backing tables. It is safe to call more than once.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, schema := range []string{schemaExperiments, schemaRuns, schemaRunParameters, schemaResults} {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	s.lggr.Debugw("Store schema initialized")

	return nil
}

// LoadExperimentByName returns the single experiment matching name and
// sample name. The returned record's ID field is left unset; see
// ExperimentRecord.
func (s *SQLStore) LoadExperimentByName(ctx context.Context, name, sampleName string) (ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, sample_name, run_counter, started_at FROM experiments WHERE name = $1 AND sample_name = $2`,
		name, sampleName,
	)
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("loading experiment %s/%s: %w", name, sampleName, err)
	}
	defer rows.Close()

	var recs []ExperimentRecord
	for rows.Next() {
		var rec ExperimentRecord
		var startedAt string
		if err := rows.Scan(&rec.ExpID, &rec.Name, &rec.SampleName, &rec.RunCounter, &startedAt); err != nil {
			return ExperimentRecord{}, fmt.Errorf("scanning experiment row: %w", err)
		}
		rec.StartedAt = parseTime(startedAt)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return ExperimentRecord{}, fmt.Errorf("loading experiment %s/%s: %w", name, sampleName, err)
	}

	switch len(recs) {
	case 0:
		return ExperimentRecord{}, fmt.Errorf("%s/%s: %w", name, sampleName, ErrExperimentNotFound)
	case 1:
		return recs[0], nil
	default:
		return ExperimentRecord{}, fmt.Errorf("%s/%s: %w", name, sampleName, ErrAmbiguousExperiment)
	}
}

// NewExperiment creates an experiment with a zero run counter.
func (s *SQLStore) NewExperiment(ctx context.Context, name, sampleName string) (ExperimentRecord, error) {
	rec := ExperimentRecord{
		Name:       name,
		SampleName: sampleName,
		StartedAt:  time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO experiments (name, sample_name, run_counter, started_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, sampleName, 0, formatTime(rec.StartedAt),
	).Scan(&rec.ExpID)
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("creating experiment %s/%s: %w", name, sampleName, err)
	}
	rec.ID = rec.ExpID

	return rec, nil
}

// DataSets returns the experiment's runs ordered by counter ascending.
func (s *SQLStore) DataSets(ctx context.Context, expID int64) ([]DataSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guid, experiment_id, counter, name, version, snapshot, started_at, completed_at
		 FROM runs WHERE experiment_id = $1 ORDER BY counter`,
		expID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading runs of experiment %d: %w", expID, err)
	}
	defer rows.Close()

	runs := []DataSet{}
	for rows.Next() {
		var run DataSet
		var startedAt, completedAt string
		err := rows.Scan(&run.RunID, &run.GUID, &run.ExpID, &run.Counter,
			&run.Name, &run.Version, &run.Snapshot, &startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		run.StartedAt = parseTime(startedAt)
		run.CompletedAt = parseTime(completedAt)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading runs of experiment %d: %w", expID, err)
	}

	for i := range runs {
		params, err := s.runParameters(ctx, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Params = params
	}

	return runs, nil
}

// CreateRun opens a new run under the experiment, assigning it the
// experiment's current counter and advancing the counter. The counter read,
// run insert and counter advance happen in one transaction.
func (s *SQLStore) CreateRun(
	ctx context.Context, expID int64, name, version, snapshot string, params []ParamSpec,
) (run DataSet, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DataSet{}, fmt.Errorf("beginning run transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var counter int
	err = tx.QueryRowContext(ctx, `SELECT run_counter FROM experiments WHERE id = $1`, expID).Scan(&counter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("experiment id %d: %w", expID, ErrExperimentNotFound)
		}

		return DataSet{}, err
	}

	now := time.Now().UTC()
	run = DataSet{
		GUID:        ksuid.New().String(),
		ExpID:       expID,
		Counter:     counter,
		Name:        name,
		Version:     version,
		Snapshot:    snapshot,
		StartedAt:   now,
		CompletedAt: now,
		Params:      append([]ParamSpec{}, params...),
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO runs (guid, experiment_id, counter, name, version, snapshot, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		run.GUID, expID, counter, name, version, snapshot, formatTime(now), formatTime(now),
	).Scan(&run.RunID)
	if err != nil {
		return DataSet{}, fmt.Errorf("inserting run: %w", err)
	}

	for i, p := range params {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_parameters (run_id, idx, name, unit, label, arity, depends_on)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			run.RunID, i, p.Name, p.Unit, p.Label, p.Arity, strings.Join(p.DependsOn, ","),
		)
		if err != nil {
			return DataSet{}, fmt.Errorf("inserting run parameter %q: %w", p.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE experiments SET run_counter = $1 WHERE id = $2`, counter+1, expID)
	if err != nil {
		return DataSet{}, fmt.Errorf("advancing run counter: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return DataSet{}, fmt.Errorf("committing run transaction: %w", err)
	}

	return run, nil
}

// AppendResults persists a batch of result rows for the run.
func (s *SQLStore) AppendResults(ctx context.Context, runID int64, rows []ResultRow) error {
	for _, row := range rows {
		value, err := json.Marshal(row.Value)
		if err != nil {
			return fmt.Errorf("encoding result value for %q: %w", row.Param, err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO results (run_id, parameter, sample_idx, value) VALUES ($1, $2, $3, $4)`,
			runID, row.Param, row.Sample, string(value),
		)
		if err != nil {
			return fmt.Errorf("inserting result row for %q: %w", row.Param, err)
		}
	}

	return nil
}

// FinalizeRun marks the run completed.
func (s *SQLStore) FinalizeRun(ctx context.Context, runID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET completed_at = $1 WHERE id = $2`, formatTime(time.Now().UTC()), runID)
	if err != nil {
		return fmt.Errorf("finalizing run %d: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run id %d: %w", runID, ErrRunNotFound)
	}

	return nil
}

// ParameterData returns the full value sequence of one parameter of a run,
// in sample order.
func (s *SQLStore) ParameterData(ctx context.Context, runID int64, param string) ([][]float64, error) {
	params, err := s.runParameters(ctx, runID)
	if err != nil {
		return nil, err
	}

	declared := false
	for _, p := range params {
		if p.Name == param {
			declared = true
			break
		}
	}
	if !declared {
		return nil, fmt.Errorf("run id %d parameter %q: %w", runID, param, ErrParameterNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM results WHERE run_id = $1 AND parameter = $2 ORDER BY sample_idx`,
		runID, param,
	)
	if err != nil {
		return nil, fmt.Errorf("loading results of run %d: %w", runID, err)
	}
	defer rows.Close()

	values := [][]float64{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		var value []float64
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decoding result value: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading results of run %d: %w", runID, err)
	}

	return values, nil
}

// runParameters loads the parameter table of a run in declaration order.
func (s *SQLStore) runParameters(ctx context.Context, runID int64) ([]ParamSpec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, unit, label, arity, depends_on FROM run_parameters WHERE run_id = $1 ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading parameters of run %d: %w", runID, err)
	}
	defer rows.Close()

	params := []ParamSpec{}
	for rows.Next() {
		var p ParamSpec
		var dependsOn string
		if err := rows.Scan(&p.Name, &p.Unit, &p.Label, &p.Arity, &dependsOn); err != nil {
			return nil, fmt.Errorf("scanning run parameter row: %w", err)
		}
		if dependsOn != "" {
			p.DependsOn = strings.Split(dependsOn, ",")
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading parameters of run %d: %w", runID, err)
	}

	if len(params) == 0 {
		// Distinguish a missing run from a run without parameters.
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT counter FROM runs WHERE id = $1`, runID).Scan(&n); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("run id %d: %w", runID, ErrRunNotFound)
			}

			return nil, fmt.Errorf("loading run %d: %w", runID, err)
		}
	}

	return params, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return t
}
