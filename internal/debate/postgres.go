package debate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/onnwee/debatecast/internal/tracing"
)

// Schema creates the tables backing PostgresStore. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS debates (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	moderator         TEXT NOT NULL,
	audience          TEXT[] NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'upcoming',
	voting_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	chat_enabled      BOOLEAN NOT NULL DEFAULT TRUE,
	reactions_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	votes_for         INTEGER NOT NULL DEFAULT 0,
	votes_against     INTEGER NOT NULL DEFAULT 0,
	votes_neutral     INTEGER NOT NULL DEFAULT 0,
	winner            TEXT,
	scheduled_for     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS debate_participants (
	debate_id TEXT NOT NULL REFERENCES debates(id) ON DELETE CASCADE,
	identity  TEXT NOT NULL,
	position  TEXT NOT NULL,
	speaking  BOOLEAN NOT NULL DEFAULT FALSE,
	ordinal   BIGSERIAL,
	PRIMARY KEY (debate_id, identity)
);

CREATE TABLE IF NOT EXISTS debate_feedback (
	id         BIGSERIAL PRIMARY KEY,
	debate_id  TEXT NOT NULL REFERENCES debates(id) ON DELETE CASCADE,
	identity   TEXT NOT NULL,
	rating     SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore implements Store on PostgreSQL via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the debate tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply debate schema: %w", err)
	}
	return nil
}

// Create inserts a debate and its roster. Used by seeding and tests; debate
// CRUD otherwise belongs to the metadata service.
func (s *PostgresStore) Create(ctx context.Context, d *Debate) (_ *Debate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "debates", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	c := d.Clone()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusUpcoming
	}
	if !c.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if c.ScheduledFor.IsZero() {
		c.ScheduledFor = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	audience := c.Audience
	if audience == nil {
		audience = []string{}
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO debates (id, title, category, moderator, audience, status,
			voting_enabled, chat_enabled, reactions_enabled, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		c.ID, c.Title, c.Category, c.Moderator, pq.Array(audience), string(c.Status),
		c.Features.VotingEnabled, c.Features.ChatEnabled, c.Features.ReactionsEnabled, c.ScheduledFor,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert debate: %w", err)
	}

	for _, p := range c.Participants {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO debate_participants (debate_id, identity, position, speaking) VALUES ($1, $2, $3, $4)`,
			c.ID, p.Identity, string(p.Position), p.Speaking,
		); err != nil {
			return nil, fmt.Errorf("failed to insert participant: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debate: %w", err)
	}
	return c, nil
}

// GetDebate retrieves a debate with its roster and feedback.
func (s *PostgresStore) GetDebate(ctx context.Context, id string) (_ *Debate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "debates", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	d := &Debate{ID: id}
	var (
		status   string
		winner   sql.NullString
		audience pq.StringArray
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT title, category, moderator, audience, status,
			voting_enabled, chat_enabled, reactions_enabled,
			votes_for, votes_against, votes_neutral, winner,
			scheduled_for, created_at, updated_at
		FROM debates WHERE id = $1`, id,
	).Scan(&d.Title, &d.Category, &d.Moderator, &audience, &status,
		&d.Features.VotingEnabled, &d.Features.ChatEnabled, &d.Features.ReactionsEnabled,
		&d.Votes.For, &d.Votes.Against, &d.Votes.Neutral, &winner,
		&d.ScheduledFor, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDebateNotFound
		}
		return nil, fmt.Errorf("failed to get debate: %w", err)
	}
	d.Status = Status(status)
	d.Audience = []string(audience)
	if winner.Valid {
		w := Winner(winner.String)
		d.Winner = &w
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, position, speaking FROM debate_participants WHERE debate_id = $1 ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Participant
		var pos string
		if err = rows.Scan(&p.Identity, &pos, &p.Speaking); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Position = Position(pos)
		d.Participants = append(d.Participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}

	fbRows, err := s.db.QueryContext(ctx,
		`SELECT identity, rating, comment, created_at FROM debate_feedback WHERE debate_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer fbRows.Close()
	for fbRows.Next() {
		var f Feedback
		if err = fbRows.Scan(&f.Identity, &f.Rating, &f.Comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		d.Feedback = append(d.Feedback, f)
	}
	if err = fbRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}

	return d, nil
}

// SetStatus updates the persisted status.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	return s.execOne(ctx, `UPDATE debates SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
}

// SetWinner records the final outcome.
func (s *PostgresStore) SetWinner(ctx context.Context, id string, winner Winner) error {
	return s.execOne(ctx, `UPDATE debates SET winner = $2, updated_at = NOW() WHERE id = $1`, id, string(winner))
}

// IncrementVote atomically adds one vote for position.
func (s *PostgresStore) IncrementVote(ctx context.Context, id string, position Position) (_ Tally, err error) {
	if !position.Valid() {
		return Tally{}, ErrInvalidPosition
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "debates", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	// Column names come from the closed Position set, never from input.
	column := map[Position]string{
		PositionFor:     "votes_for",
		PositionAgainst: "votes_against",
		PositionNeutral: "votes_neutral",
	}[position]

	var t Tally
	err = s.db.QueryRowContext(ctx,
		`UPDATE debates SET `+column+` = `+column+` + 1, updated_at = NOW() WHERE id = $1
		 RETURNING votes_for, votes_against, votes_neutral`, id,
	).Scan(&t.For, &t.Against, &t.Neutral)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tally{}, ErrDebateNotFound
		}
		return Tally{}, fmt.Errorf("failed to increment vote: %w", err)
	}
	return t, nil
}

// AppendFeedback appends a feedback entry.
func (s *PostgresStore) AppendFeedback(ctx context.Context, id string, entry Feedback) (err error) {
	if entry.Rating < 1 || entry.Rating > 5 {
		return ErrInvalidRating
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "debate_feedback", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO debate_feedback (debate_id, identity, rating, comment, created_at)
		SELECT id, $2, $3, $4, $5 FROM debates WHERE id = $1`,
		id, entry.Identity, entry.Rating, entry.Comment, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return requireRow(res, ErrDebateNotFound)
}

// AddParticipant appends identity to the roster and drops it from the audience.
func (s *PostgresStore) AddParticipant(ctx context.Context, id, identity string, position Position) (err error) {
	if !position.Valid() {
		return ErrInvalidPosition
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "debate_participants", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO debate_participants (debate_id, identity, position)
		SELECT id, $2, $3 FROM debates WHERE id = $1
		ON CONFLICT (debate_id, identity) DO NOTHING`,
		id, identity, string(position))
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetDebate(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyParticipant
	}

	if _, err = s.db.ExecContext(ctx,
		`UPDATE debates SET audience = array_remove(audience, $2), updated_at = NOW() WHERE id = $1`,
		id, identity); err != nil {
		return fmt.Errorf("failed to update audience: %w", err)
	}
	return nil
}

// RemoveParticipant removes identity from the roster.
func (s *PostgresStore) RemoveParticipant(ctx context.Context, id, identity string) error {
	return s.execOneOr(ctx, ErrParticipantNotFound,
		`DELETE FROM debate_participants WHERE debate_id = $1 AND identity = $2`, id, identity)
}

// SetSpeaking sets the speaking flag of a roster entry.
func (s *PostgresStore) SetSpeaking(ctx context.Context, id, identity string, speaking bool) error {
	return s.execOneOr(ctx, ErrParticipantNotFound,
		`UPDATE debate_participants SET speaking = $3 WHERE debate_id = $1 AND identity = $2`, id, identity, speaking)
}

func (s *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	return s.execOneOr(ctx, ErrDebateNotFound, query, args...)
}

func (s *PostgresStore) execOneOr(ctx context.Context, notFound error, query string, args ...any) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "debates", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update debate: %w", err)
	}
	return requireRow(res, notFound)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
