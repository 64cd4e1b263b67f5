package services

import (
	"context"
	"strings"

	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/types"
)

// QuestionRepository defines persistence operations for the question catalog.
type QuestionRepository interface {
	List(ctx context.Context, subjectID, topicID, offset, limit int) ([]types.Question, int, error)
	Get(ctx context.Context, id int) (types.Question, error)
	Create(ctx context.Context, question types.Question) (types.Question, error)
	CountExisting(ctx context.Context, ids []int) (int, error)
}

// QuestionService encapsulates question catalog use-cases.
type QuestionService struct {
	repo QuestionRepository
}

func NewQuestionService(repo QuestionRepository) *QuestionService {
	return &QuestionService{repo: repo}
}

func (s *QuestionService) List(ctx context.Context, subjectID, topicID, offset, limit int) ([]types.Question, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, subjectID, topicID, offset, limit)
}

func (s *QuestionService) Get(ctx context.Context, id int) (types.Question, error) {
	return s.repo.Get(ctx, id)
}

func (s *QuestionService) Create(ctx context.Context, question types.Question) (types.Question, error) {
	question.Prompt = strings.TrimSpace(question.Prompt)
	if question.Prompt == "" {
		return types.Question{}, &challenge.ValidationError{Field: "prompt", Reason: "is required"}
	}
	if len(question.Options) < 2 {
		return types.Question{}, &challenge.ValidationError{Field: "options", Reason: "at least two options are required"}
	}
	if question.AnswerIndex < 0 || question.AnswerIndex >= len(question.Options) {
		return types.Question{}, &challenge.ValidationError{Field: "answer_index", Reason: "must point at an option"}
	}
	if question.Difficulty == "" {
		question.Difficulty = types.DifficultyMedium
	}
	if !question.Difficulty.Valid() {
		return types.Question{}, &challenge.ValidationError{Field: "difficulty", Reason: "must be easy, medium or hard"}
	}
	return s.repo.Create(ctx, question)
}

// CountExisting reports how many of ids are in the catalog.
func (s *QuestionService) CountExisting(ctx context.Context, ids []int) (int, error) {
	return s.repo.CountExisting(ctx, ids)
}
