package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/internal/services"
	"github.com/prepbolt/apiserver/internal/store"
	"github.com/prepbolt/apiserver/types"
)

// userLookup loads the current role of an authenticated user.
type userLookup interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// QuestionHandler provides HTTP handlers for the question catalog.
type QuestionHandler struct {
	questionService *services.QuestionService
	users           userLookup
}

// NewQuestionHandler constructs a handler with the provided services.
func NewQuestionHandler(questionService *services.QuestionService, users userLookup) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
		users:           users,
	}
}

// QuestionRouter registers question routes on the given router.
func QuestionRouter(
	r chi.Router,
	questionService *services.QuestionService,
	users userLookup,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewQuestionHandler(questionService, users)

	r.Get("/", handler.ListQuestions)
	r.With(authMiddleware, handler.requireAdmin).Post("/", handler.CreateQuestion)
	r.Get("/{questionID}", handler.GetQuestion)
}

func (h *QuestionHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	subjectID, err := parseQueryInt(r, "subject_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	topicID, err := parseQueryInt(r, "topic_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.questionService.List(r.Context(), subjectID, topicID, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list questions")
		return
	}

	writeJSON(w, http.StatusOK, QuestionListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *QuestionHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "questionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	question, err := h.questionService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "question not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to fetch question")
		return
	}

	writeJSON(w, http.StatusOK, question)
}

func (h *QuestionHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	created, err := h.questionService.Create(r.Context(), types.Question{
		SubjectID:   req.SubjectID,
		TopicID:     req.TopicID,
		Prompt:      req.Prompt,
		Options:     req.Options,
		AnswerIndex: req.AnswerIndex,
		Difficulty:  types.Difficulty(strings.ToLower(string(req.Difficulty))),
		Tags:        req.Tags,
	})
	if err != nil {
		if errors.Is(err, challenge.ErrValidation) {
			writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to create question")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// CreateQuestionRequest is the create payload. Unlike types.Question it
// accepts the answer index.
type CreateQuestionRequest struct {
	SubjectID   int              `json:"subject_id"`
	TopicID     int              `json:"topic_id"`
	Prompt      string           `json:"prompt"`
	Options     []string         `json:"options"`
	AnswerIndex int              `json:"answer_index"`
	Difficulty  types.Difficulty `json:"difficulty"`
	Tags        []string         `json:"tags"`
}

// QuestionListResponse is the paginated list response payload.
type QuestionListResponse struct {
	Items []types.Question `json:"items"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
	Total int              `json:"total"`
}

func (h *QuestionHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		user, err := h.users.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal", "failed to load user")
			return
		}

		if !strings.EqualFold(user.Role, types.RoleAdmin) {
			writeError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
