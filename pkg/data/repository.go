package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Repository defines the interface for durable engine state: published feed
// records, round archives, reporter records and audit events.
type Repository interface {
	// Feed state operations
	SaveFeedState(ctx context.Context, state *FeedState) error
	GetFeedState(ctx context.Context, feedID string) (*FeedState, error)
	ListFeedStates(ctx context.Context) ([]*FeedState, error)

	// Round archive operations
	SaveRoundArchive(ctx context.Context, archive *RoundArchive) error
	GetRoundArchive(ctx context.Context, feedID string, roundSeq uint64) (*RoundArchive, error)
	ListRoundArchives(ctx context.Context, feedID string, limit int) ([]*RoundArchive, error)

	// Reporter operations
	SaveReporter(ctx context.Context, reporter *Reporter) error
	GetReporter(ctx context.Context, id peer.ID) (*Reporter, error)
	ListReporters(ctx context.Context) ([]*Reporter, error)

	// Audit operations
	SaveAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, reporterID peer.ID) ([]*AuditEvent, error)
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a new PostgreSQL repository instance
func NewPostgresRepository(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	repo := &PostgresRepository{
		pool:   pool,
		logger: logger,
	}

	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return repo, nil
}

// Close releases all database resources
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// SaveFeedState upserts the published record for a feed.
func (r *PostgresRepository) SaveFeedState(ctx context.Context, state *FeedState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("validating feed state: %w", err)
	}

	query := `
		INSERT INTO feed_states (feed_id, value, confidence, updated_at, round_seq)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (feed_id) DO UPDATE
		SET value = $2, confidence = $3, updated_at = $4, round_seq = $5`

	_, err := r.pool.Exec(ctx, query,
		state.FeedID, state.Value, state.Confidence, state.UpdatedAt, int64(state.RoundSeq),
	)
	if err != nil {
		return fmt.Errorf("upserting feed state: %w", err)
	}

	return nil
}

// GetFeedState retrieves the published record for a feed.
func (r *PostgresRepository) GetFeedState(ctx context.Context, feedID string) (*FeedState, error) {
	query := `
		SELECT feed_id, value, confidence, updated_at, round_seq
		FROM feed_states
		WHERE feed_id = $1`

	state := &FeedState{}
	var seq int64
	err := r.pool.QueryRow(ctx, query, feedID).Scan(
		&state.FeedID, &state.Value, &state.Confidence, &state.UpdatedAt, &seq,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying feed state: %w", err)
	}
	state.RoundSeq = uint64(seq)

	if err := state.Validate(); err != nil {
		return nil, err
	}
	return state, nil
}

// ListFeedStates retrieves all published feed records.
func (r *PostgresRepository) ListFeedStates(ctx context.Context) ([]*FeedState, error) {
	query := `
		SELECT feed_id, value, confidence, updated_at, round_seq
		FROM feed_states
		ORDER BY feed_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying feed states: %w", err)
	}
	defer rows.Close()

	var states []*FeedState
	for rows.Next() {
		state := &FeedState{}
		var seq int64
		if err := rows.Scan(&state.FeedID, &state.Value, &state.Confidence, &state.UpdatedAt, &seq); err != nil {
			return nil, fmt.Errorf("scanning feed state row: %w", err)
		}
		state.RoundSeq = uint64(seq)
		if err := state.Validate(); err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feed state rows: %w", err)
	}

	return states, nil
}

// SaveRoundArchive persists the audit record of a finalized round.
func (r *PostgresRepository) SaveRoundArchive(ctx context.Context, archive *RoundArchive) error {
	subs, err := json.Marshal(archive.Submissions)
	if err != nil {
		return fmt.Errorf("encoding submissions: %w", err)
	}
	outliers, err := json.Marshal(archive.Outliers)
	if err != nil {
		return fmt.Errorf("encoding outliers: %w", err)
	}

	query := `
		INSERT INTO round_archives (
			id, feed_id, round_seq, outcome, value, confidence, closed_at,
			submissions, outliers
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		archive.ID, archive.FeedID, int64(archive.RoundSeq), string(archive.Outcome),
		archive.Value, archive.Confidence, archive.ClosedAt, subs, outliers,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting round archive: %w", err)
	}

	return nil
}

// GetRoundArchive retrieves the archive for one feed round.
func (r *PostgresRepository) GetRoundArchive(ctx context.Context, feedID string, roundSeq uint64) (*RoundArchive, error) {
	query := `
		SELECT id, feed_id, round_seq, outcome, value, confidence, closed_at,
			   submissions, outliers
		FROM round_archives
		WHERE feed_id = $1 AND round_seq = $2`

	return r.scanArchive(r.pool.QueryRow(ctx, query, feedID, int64(roundSeq)))
}

// ListRoundArchives retrieves recent archives for a feed, newest first.
func (r *PostgresRepository) ListRoundArchives(ctx context.Context, feedID string, limit int) ([]*RoundArchive, error) {
	query := `
		SELECT id, feed_id, round_seq, outcome, value, confidence, closed_at,
			   submissions, outliers
		FROM round_archives
		WHERE feed_id = $1
		ORDER BY round_seq DESC`

	args := []interface{}{feedID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying round archives: %w", err)
	}
	defer rows.Close()

	var archives []*RoundArchive
	for rows.Next() {
		archive, err := r.scanArchive(rows)
		if err != nil {
			return nil, err
		}
		archives = append(archives, archive)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating round archive rows: %w", err)
	}

	return archives, nil
}

// SaveReporter upserts a reporter record.
func (r *PostgresRepository) SaveReporter(ctx context.Context, reporter *Reporter) error {
	query := `
		INSERT INTO reporters (
			id, public_key, stake, reputation, status, registered_at, last_active, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET stake = $3, reputation = $4, status = $5, last_active = $7, updated_at = $8`

	_, err := r.pool.Exec(ctx, query,
		string(reporter.ID), reporter.PublicKey, int64(reporter.Stake), reporter.Reputation,
		string(reporter.Status), reporter.RegisteredAt, reporter.LastActive, reporter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting reporter: %w", err)
	}

	return nil
}

// GetReporter retrieves a reporter record by identity.
func (r *PostgresRepository) GetReporter(ctx context.Context, id peer.ID) (*Reporter, error) {
	query := `
		SELECT id, public_key, stake, reputation, status, registered_at, last_active, updated_at
		FROM reporters
		WHERE id = $1`

	reporter := &Reporter{}
	var rid, status string
	var stake int64
	err := r.pool.QueryRow(ctx, query, string(id)).Scan(
		&rid, &reporter.PublicKey, &stake, &reporter.Reputation, &status,
		&reporter.RegisteredAt, &reporter.LastActive, &reporter.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying reporter: %w", err)
	}
	reporter.ID = peer.ID(rid)
	reporter.Stake = uint64(stake)
	reporter.Status = ReporterStatus(status)

	return reporter, nil
}

// ListReporters retrieves all reporter records.
func (r *PostgresRepository) ListReporters(ctx context.Context) ([]*Reporter, error) {
	query := `
		SELECT id, public_key, stake, reputation, status, registered_at, last_active, updated_at
		FROM reporters
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying reporters: %w", err)
	}
	defer rows.Close()

	var reporters []*Reporter
	for rows.Next() {
		reporter := &Reporter{}
		var rid, status string
		var stake int64
		if err := rows.Scan(
			&rid, &reporter.PublicKey, &stake, &reporter.Reputation, &status,
			&reporter.RegisteredAt, &reporter.LastActive, &reporter.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning reporter row: %w", err)
		}
		reporter.ID = peer.ID(rid)
		reporter.Stake = uint64(stake)
		reporter.Status = ReporterStatus(status)
		reporters = append(reporters, reporter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reporter rows: %w", err)
	}

	return reporters, nil
}

// SaveAuditEvent persists an audit event.
func (r *PostgresRepository) SaveAuditEvent(ctx context.Context, event *AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, type, reporter_id, feed_id, round_seq, amount, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		event.ID, string(event.Type), string(event.ReporterID), event.FeedID,
		int64(event.RoundSeq), int64(event.Amount), event.Detail, event.CreatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting audit event: %w", err)
	}

	return nil
}

// ListAuditEvents retrieves all audit events for a reporter, newest first.
func (r *PostgresRepository) ListAuditEvents(ctx context.Context, reporterID peer.ID) ([]*AuditEvent, error) {
	query := `
		SELECT id, type, reporter_id, feed_id, round_seq, amount, detail, created_at
		FROM audit_events
		WHERE reporter_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, string(reporterID))
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		event := &AuditEvent{}
		var evType, rid string
		var seq, amount int64
		if err := rows.Scan(
			&event.ID, &evType, &rid, &event.FeedID, &seq, &amount, &event.Detail, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit event row: %w", err)
		}
		event.Type = AuditEventType(evType)
		event.ReporterID = peer.ID(rid)
		event.RoundSeq = uint64(seq)
		event.Amount = uint64(amount)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit event rows: %w", err)
	}

	return events, nil
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepository) scanArchive(row pgxRow) (*RoundArchive, error) {
	archive := &RoundArchive{}
	var outcome string
	var seq int64
	var subs, outliers []byte
	err := row.Scan(
		&archive.ID, &archive.FeedID, &seq, &outcome, &archive.Value,
		&archive.Confidence, &archive.ClosedAt, &subs, &outliers,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning round archive: %w", err)
	}
	archive.RoundSeq = uint64(seq)
	archive.Outcome = RoundOutcome(outcome)

	if err := json.Unmarshal(subs, &archive.Submissions); err != nil {
		return nil, fmt.Errorf("%w: decoding submissions: %v", ErrFeedCorrupted, err)
	}
	if err := json.Unmarshal(outliers, &archive.Outliers); err != nil {
		return nil, fmt.Errorf("%w: decoding outliers: %v", ErrFeedCorrupted, err)
	}

	return archive, nil
}

// Helper function to check for PostgreSQL duplicate key errors
func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}
