package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/prepbolt/apiserver/types"
)

const challengeColumns = `id, creator_id, subject_id, topic_id, title, description, difficulty,
		question_ids, time_limit, max_participants, prizes, rules, start_date, end_date,
		registration_deadline, timezone, status, is_active, participants, winners, version,
		created_at, updated_at, started_at, completed_at, cancelled_at`

// ChallengeRepository handles persistence for challenges and their audit
// events. Mutations go through CompareAndSwap, keyed on the version column.
type ChallengeRepository struct {
	db *sql.DB
}

func NewChallengeRepository(db *sql.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (types.Challenge, error) {
	var (
		c                         types.Challenge
		questionIDs, participants pq.Int64Array
		prizesJSON, rulesJSON     []byte
		winnersJSON               []byte
		status                    string
		deadline                  sql.NullTime
		startedAt, completedAt    sql.NullTime
		cancelledAt               sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.CreatorID,
		&c.SubjectID,
		&c.TopicID,
		&c.Title,
		&c.Description,
		&c.Difficulty,
		&questionIDs,
		&c.TimeLimit,
		&c.MaxParticipants,
		&prizesJSON,
		&rulesJSON,
		&c.StartDate,
		&c.EndDate,
		&deadline,
		&c.Timezone,
		&status,
		&c.IsActive,
		&participants,
		&winnersJSON,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
	); err != nil {
		return types.Challenge{}, err
	}

	parsed, err := types.ParseChallengeStatus(status)
	if err != nil {
		return types.Challenge{}, err
	}
	c.Status = parsed
	c.QuestionIDs = fromInt64Array(questionIDs)
	c.Participants = fromInt64Array(participants)
	c.RegistrationDeadline = fromNullTime(deadline)
	c.StartedAt = fromNullTime(startedAt)
	c.CompletedAt = fromNullTime(completedAt)
	c.CancelledAt = fromNullTime(cancelledAt)

	if err := json.Unmarshal(prizesJSON, &c.Prizes); err != nil {
		return types.Challenge{}, fmt.Errorf("decode prizes: %w", err)
	}
	if err := json.Unmarshal(rulesJSON, &c.Rules); err != nil {
		return types.Challenge{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := json.Unmarshal(winnersJSON, &c.Winners); err != nil {
		return types.Challenge{}, fmt.Errorf("decode winners: %w", err)
	}
	return c, nil
}

func (r *ChallengeRepository) Get(ctx context.Context, id int) (types.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`
	c, err := scanChallenge(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Challenge{}, ErrNotFound
		}
		return types.Challenge{}, err
	}
	return c, nil
}

func (r *ChallengeRepository) List(ctx context.Context, filter types.ChallengeFilter, offset, limit int) ([]types.Challenge, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	where, args := challengeWhere(filter)

	var total int
	countQuery := `SELECT COUNT(1) FROM challenges` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM challenges%s ORDER BY start_date, id OFFSET $%d LIMIT $%d`,
		challengeColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, listQuery, append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	challenges := make([]types.Challenge, 0, limit)
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, 0, err
		}
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return challenges, total, nil
}

func challengeWhere(filter types.ChallengeFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.IncludeInactive {
		conds = append(conds, "is_active")
	}
	if filter.Status != nil {
		add("status = $%d", filter.Status.String())
	}
	if filter.SubjectID > 0 {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.TopicID > 0 {
		add("topic_id = $%d", filter.TopicID)
	}
	if filter.CreatorID > 0 {
		add("creator_id = $%d", filter.CreatorID)
	}
	if filter.Difficulty != "" {
		add("difficulty = $%d", string(filter.Difficulty))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Create inserts c and its creation event in one transaction.
func (r *ChallengeRepository) Create(ctx context.Context, c types.Challenge, event types.ChallengeEvent) (types.Challenge, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Version == 0 {
		c.Version = 1
	}

	prizesJSON, rulesJSON, winnersJSON, err := encodeChallengeJSON(c)
	if err != nil {
		return types.Challenge{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Challenge{}, err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO challenges (creator_id, subject_id, topic_id, title, description, difficulty,
			question_ids, time_limit, max_participants, prizes, rules, start_date, end_date,
			registration_deadline, timezone, status, is_active, participants, winners, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		query,
		c.CreatorID,
		c.SubjectID,
		c.TopicID,
		c.Title,
		c.Description,
		string(c.Difficulty),
		toInt64Array(c.QuestionIDs),
		c.TimeLimit,
		c.MaxParticipants,
		prizesJSON,
		rulesJSON,
		c.StartDate,
		c.EndDate,
		c.RegistrationDeadline,
		c.Timezone,
		c.Status.String(),
		c.IsActive,
		toInt64Array(c.Participants),
		winnersJSON,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&c.ID); err != nil {
		return types.Challenge{}, mapPQError(err)
	}

	event.ChallengeID = c.ID
	event.Version = c.Version
	if err := insertEvents(ctx, tx, event); err != nil {
		return types.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Challenge{}, err
	}
	return c, nil
}

// CompareAndSwap replaces the stored challenge with next if its version is
// still expectedVersion, and appends events in the same transaction. It
// returns ErrVersionConflict when another writer got there first.
func (r *ChallengeRepository) CompareAndSwap(ctx context.Context, expectedVersion int64, next types.Challenge, events ...types.ChallengeEvent) error {
	prizesJSON, rulesJSON, winnersJSON, err := encodeChallengeJSON(next)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		UPDATE challenges
		SET subject_id = $1,
			topic_id = $2,
			title = $3,
			description = $4,
			difficulty = $5,
			question_ids = $6,
			time_limit = $7,
			max_participants = $8,
			prizes = $9,
			rules = $10,
			start_date = $11,
			end_date = $12,
			registration_deadline = $13,
			timezone = $14,
			status = $15,
			is_active = $16,
			participants = $17,
			winners = $18,
			version = $19,
			updated_at = $20,
			started_at = $21,
			completed_at = $22,
			cancelled_at = $23
		WHERE id = $24 AND version = $25`
	result, err := tx.ExecContext(
		ctx,
		query,
		next.SubjectID,
		next.TopicID,
		next.Title,
		next.Description,
		string(next.Difficulty),
		toInt64Array(next.QuestionIDs),
		next.TimeLimit,
		next.MaxParticipants,
		prizesJSON,
		rulesJSON,
		next.StartDate,
		next.EndDate,
		next.RegistrationDeadline,
		next.Timezone,
		next.Status.String(),
		next.IsActive,
		toInt64Array(next.Participants),
		winnersJSON,
		next.Version,
		next.UpdatedAt,
		next.StartedAt,
		next.CompletedAt,
		next.CancelledAt,
		next.ID,
		expectedVersion,
	)
	if err != nil {
		return mapPQError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM challenges WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	if err := insertEvents(ctx, tx, events...); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvents(ctx context.Context, tx *sql.Tx, events ...types.ChallengeEvent) error {
	const query = `
		INSERT INTO challenge_events (id, challenge_id, type, actor_id, user_id, status, version, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, ev := range events {
		if _, err := tx.ExecContext(
			ctx,
			query,
			ev.ID,
			ev.ChallengeID,
			string(ev.Type),
			ev.ActorID,
			ev.UserID,
			ev.Status.String(),
			ev.Version,
			ev.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Type, mapPQError(err))
		}
	}
	return nil
}

// ListEvents returns the audit trail of a challenge, oldest first.
func (r *ChallengeRepository) ListEvents(ctx context.Context, challengeID, offset, limit int) ([]types.ChallengeEvent, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 50
	}

	var total int
	const countQuery = `SELECT COUNT(1) FROM challenge_events WHERE challenge_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, challengeID).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, challenge_id, type, actor_id, user_id, status, version, occurred_at
		FROM challenge_events
		WHERE challenge_id = $1
		ORDER BY version, occurred_at
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, challengeID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]types.ChallengeEvent, 0, limit)
	for rows.Next() {
		var (
			ev     types.ChallengeEvent
			kind   string
			status string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.ChallengeID,
			&kind,
			&ev.ActorID,
			&ev.UserID,
			&status,
			&ev.Version,
			&ev.OccurredAt,
		); err != nil {
			return nil, 0, err
		}
		ev.Type = types.ChallengeEventType(kind)
		if ev.Status, err = types.ParseChallengeStatus(status); err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListExpired returns the ids of active challenges whose end date is
// before the given instant.
func (r *ChallengeRepository) ListExpired(ctx context.Context, before time.Time) ([]int, error) {
	const query = `
		SELECT id FROM challenges
		WHERE is_active AND status = $1 AND end_date < $2
		ORDER BY end_date, id`
	return r.listIDs(ctx, query, types.StatusActive.String(), before)
}

// ListStartable returns the ids of open challenges whose start date is
// at or before the given instant.
func (r *ChallengeRepository) ListStartable(ctx context.Context, before time.Time) ([]int, error) {
	const query = `
		SELECT id FROM challenges
		WHERE is_active AND status = $1 AND start_date <= $2
		ORDER BY start_date, id`
	return r.listIDs(ctx, query, types.StatusOpen.String(), before)
}

func (r *ChallengeRepository) listIDs(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeChallengeJSON(c types.Challenge) (prizes, rules, winners []byte, err error) {
	if c.Prizes == nil {
		c.Prizes = []types.Prize{}
	}
	if c.Winners == nil {
		c.Winners = []types.WinnerEntry{}
	}
	if prizes, err = json.Marshal(c.Prizes); err != nil {
		return nil, nil, nil, err
	}
	if rules, err = json.Marshal(c.Rules); err != nil {
		return nil, nil, nil, err
	}
	if winners, err = json.Marshal(c.Winners); err != nil {
		return nil, nil, nil, err
	}
	return prizes, rules, winners, nil
}

func toInt64Array(values []int) pq.Int64Array {
	out := make(pq.Int64Array, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

func fromInt64Array(values pq.Int64Array) []int {
	if len(values) == 0 {
		return nil
	}
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
