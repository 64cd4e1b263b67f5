package types

import "time"

// Question represents a quiz question in the catalog.
// Challenges reference questions by id; the catalog is the authority on
// which ids exist.
type Question struct {
	// ID is the unique identifier of the question.
	ID int `json:"id" db:"id"`

	// SubjectID references the subject the question belongs to.
	SubjectID int `json:"subject_id" db:"subject_id"`

	// TopicID references the topic within the subject.
	TopicID int `json:"topic_id" db:"topic_id"`

	// Prompt is the question text shown to participants.
	Prompt string `json:"prompt" db:"prompt"`

	// Options are the answer choices, in display order.
	Options []string `json:"options" db:"options"`

	// AnswerIndex is the position of the correct option.
	// This field is never exposed in API responses.
	AnswerIndex int `json:"-" db:"answer_index"`

	// Difficulty is the difficulty level of the question.
	Difficulty Difficulty `json:"difficulty" db:"difficulty"`

	// Tags are free-form labels used for categorization and search.
	Tags []string `json:"tags" db:"tags"`

	// CreatedAt is the timestamp at which the question was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the question.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
