package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/prepbolt/apiserver/types"
)

const questionColumns = `id, subject_id, topic_id, prompt, options, answer_index, difficulty, tags, created_at, updated_at`

// QuestionRepository handles persistence for the question catalog.
type QuestionRepository struct {
	db *sql.DB
}

func NewQuestionRepository(db *sql.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

func scanQuestion(row rowScanner) (types.Question, error) {
	var question types.Question
	var optionsJSON, tagsJSON []byte
	if err := row.Scan(
		&question.ID,
		&question.SubjectID,
		&question.TopicID,
		&question.Prompt,
		&optionsJSON,
		&question.AnswerIndex,
		&question.Difficulty,
		&tagsJSON,
		&question.CreatedAt,
		&question.UpdatedAt,
	); err != nil {
		return types.Question{}, err
	}

	_ = json.Unmarshal(optionsJSON, &question.Options)
	_ = json.Unmarshal(tagsJSON, &question.Tags)
	return question, nil
}

func (r *QuestionRepository) List(ctx context.Context, subjectID, topicID, offset, limit int) ([]types.Question, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const where = ` WHERE ($1 = 0 OR subject_id = $1) AND ($2 = 0 OR topic_id = $2)`
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM questions`+where, subjectID, topicID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + questionColumns + ` FROM questions` + where + ` ORDER BY id OFFSET $3 LIMIT $4`
	rows, err := r.db.QueryContext(ctx, query, subjectID, topicID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	questions := make([]types.Question, 0, limit)
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, err
		}
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return questions, total, nil
}

func (r *QuestionRepository) Get(ctx context.Context, id int) (types.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE id = $1`
	question, err := scanQuestion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Question{}, ErrNotFound
		}
		return types.Question{}, err
	}
	return question, nil
}

func (r *QuestionRepository) Create(ctx context.Context, question types.Question) (types.Question, error) {
	now := time.Now()
	question.CreatedAt = now
	question.UpdatedAt = now

	if question.Options == nil {
		question.Options = []string{}
	}
	if question.Tags == nil {
		question.Tags = []string{}
	}
	optionsJSON, err := json.Marshal(question.Options)
	if err != nil {
		return types.Question{}, err
	}
	tagsJSON, err := json.Marshal(question.Tags)
	if err != nil {
		return types.Question{}, err
	}

	const query = `
		INSERT INTO questions (subject_id, topic_id, prompt, options, answer_index, difficulty, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		question.SubjectID,
		question.TopicID,
		question.Prompt,
		optionsJSON,
		question.AnswerIndex,
		string(question.Difficulty),
		tagsJSON,
		question.CreatedAt,
		question.UpdatedAt,
	).Scan(&question.ID); err != nil {
		return types.Question{}, mapPQError(err)
	}
	return question, nil
}

// CountExisting reports how many of the distinct ids exist in the catalog.
func (r *QuestionRepository) CountExisting(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	const query = `SELECT COUNT(DISTINCT id) FROM questions WHERE id = ANY($1)`
	if err := r.db.QueryRowContext(ctx, query, toInt64Array(ids)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
