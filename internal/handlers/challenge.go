package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/internal/services"
	"github.com/prepbolt/apiserver/types"
)

const idempotencyHeader = "Idempotency-Key"

// ChallengeService is the subset of services.ChallengeService used over HTTP.
type ChallengeService interface {
	Create(ctx context.Context, actor types.Actor, in services.CreateChallengeInput) (types.Challenge, error)
	Get(ctx context.Context, id int) (types.Challenge, error)
	List(ctx context.Context, filter types.ChallengeFilter, offset, limit int) ([]types.Challenge, int, error)
	Update(ctx context.Context, actor types.Actor, id int, patch challenge.Patch) (types.Challenge, error)
	Transition(ctx context.Context, actor types.Actor, id int, event challenge.Event) (types.Challenge, error)
	Delete(ctx context.Context, actor types.Actor, id int) error
	Join(ctx context.Context, id, userID int) (types.Challenge, error)
	Leave(ctx context.Context, id, userID int) (types.Challenge, error)
	SubmitResult(ctx context.Context, id, userID, score, timeSpent int) (types.Challenge, error)
	GetLeaderboard(ctx context.Context, viewer types.Actor, id int) (types.Leaderboard, error)
	ListEvents(ctx context.Context, actor types.Actor, id, offset, limit int) ([]types.ChallengeEvent, int, error)
}

// LiveServer streams challenge updates over a websocket.
type LiveServer interface {
	Serve(w http.ResponseWriter, r *http.Request, challengeID int) error
}

// ChallengeHandler provides HTTP handlers for challenges.
type ChallengeHandler struct {
	challenges ChallengeService
	live       LiveServer
}

func NewChallengeHandler(challenges ChallengeService, live LiveServer) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, live: live}
}

// ChallengeRouter registers challenge routes on the given router.
func ChallengeRouter(r chi.Router, challenges ChallengeService, live LiveServer, jwtSecret string) {
	handler := NewChallengeHandler(challenges, live)
	requireAuth := RequireAuth(jwtSecret)
	optionalAuth := OptionalAuth(jwtSecret)

	r.With(optionalAuth).Get("/", handler.ListChallenges)
	r.With(requireAuth).Post("/", handler.CreateChallenge)
	r.Route("/{challengeID}", func(r chi.Router) {
		r.Get("/", handler.GetChallenge)
		r.Get("/live", handler.Live)
		r.With(optionalAuth).Get("/leaderboard", handler.GetLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Patch("/", handler.UpdateChallenge)
			r.Delete("/", handler.DeleteChallenge)
			for _, event := range challenge.Events() {
				r.Post("/"+string(event), handler.Transition(event))
			}
			r.Post("/join", handler.Join)
			r.Post("/leave", handler.Leave)
			r.Post("/results", handler.SubmitResult)
			r.Get("/events", handler.ListEvents)
		})
	})
}

func (h *ChallengeHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	filter, err := parseChallengeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if filter.IncludeInactive && !actorFromContext(r.Context()).IsOperator() {
		writeServiceError(w, challenge.ErrForbidden)
		return
	}

	items, total, err := h.challenges.List(r.Context(), filter, offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChallengeListResponse{Items: items, Page: page, Limit: limit, Total: total})
}

func (h *ChallengeHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req CreateChallengeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	created, err := h.challenges.Create(r.Context(), actorFromContext(r.Context()), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ChallengeHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	c, err := h.challenges.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChallengeHandler) UpdateChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	var req UpdateChallengeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	updated, err := h.challenges.Update(r.Context(), actorFromContext(r.Context()), id, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ChallengeHandler) DeleteChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	if err := h.challenges.Delete(r.Context(), actorFromContext(r.Context()), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transition returns the handler for a lifecycle event. A replayed request
// whose Idempotency-Key names the challenge and its current status
// succeeds with the current challenge.
func (h *ChallengeHandler) Transition(event challenge.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := challengeID(w, r)
		if !ok {
			return
		}
		c, err := h.challenges.Transition(r.Context(), actorFromContext(r.Context()), id, event)
		if err != nil {
			if errors.Is(err, challenge.ErrAlreadyApplied) && matchesIdempotencyKey(r, id, event) {
				current, getErr := h.challenges.Get(r.Context(), id)
				if getErr == nil {
					writeJSON(w, http.StatusOK, current)
					return
				}
				err = getErr
			}
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (h *ChallengeHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.admission(w, r, h.challenges.Join)
}

func (h *ChallengeHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.admission(w, r, h.challenges.Leave)
}

func (h *ChallengeHandler) admission(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, userID int) (types.Challenge, error)) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	c, err := op(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChallengeHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	var req SubmitResultRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Score == nil || req.TimeSpent == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "score and time_spent are required")
		return
	}

	c, err := h.challenges.SubmitResult(r.Context(), id, userID, *req.Score, *req.TimeSpent)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ChallengeHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	board, err := h.challenges.GetLeaderboard(r.Context(), actorFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *ChallengeHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	events, total, err := h.challenges.ListEvents(r.Context(), actorFromContext(r.Context()), id, offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventListResponse{Items: events, Page: page, Limit: limit, Total: total})
}

// Live upgrades to a websocket streaming events and leaderboards of one
// challenge.
func (h *ChallengeHandler) Live(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	if h.live == nil {
		writeError(w, http.StatusNotFound, "not_found", "live updates are disabled")
		return
	}
	if _, err := h.challenges.Get(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	// The upgrader has already answered the client on failure.
	_ = h.live.Serve(w, r, id)
}

// CreateChallengeRequest is the create payload.
type CreateChallengeRequest struct {
	SubjectID            int                    `json:"subject_id"`
	TopicID              int                    `json:"topic_id"`
	Title                string                 `json:"title"`
	Description          string                 `json:"description"`
	Difficulty           types.Difficulty       `json:"difficulty"`
	QuestionIDs          []int                  `json:"question_ids"`
	TimeLimit            int                    `json:"time_limit"`
	MaxParticipants      int                    `json:"max_participants"`
	Prizes               []types.Prize          `json:"prizes"`
	Rules                types.Rules            `json:"rules"`
	StartDate            *time.Time             `json:"start_date"`
	EndDate              *time.Time             `json:"end_date"`
	RegistrationDeadline *time.Time             `json:"registration_deadline"`
	Timezone             string                 `json:"timezone"`
	Status               *types.ChallengeStatus `json:"status"`
}

func (req CreateChallengeRequest) input() (services.CreateChallengeInput, error) {
	if req.StartDate == nil || req.EndDate == nil {
		return services.CreateChallengeInput{}, errors.New("start_date and end_date are required")
	}
	return services.CreateChallengeInput{
		SubjectID:            req.SubjectID,
		TopicID:              req.TopicID,
		Title:                strings.TrimSpace(req.Title),
		Description:          req.Description,
		Difficulty:           req.Difficulty,
		QuestionIDs:          req.QuestionIDs,
		TimeLimit:            req.TimeLimit,
		MaxParticipants:      req.MaxParticipants,
		Prizes:               req.Prizes,
		Rules:                req.Rules,
		StartDate:            *req.StartDate,
		EndDate:              *req.EndDate,
		RegistrationDeadline: req.RegistrationDeadline,
		Timezone:             req.Timezone,
		Status:               req.Status,
	}, nil
}

// UpdateChallengeRequest is the partial update payload. Absent fields are
// left unchanged; an explicit null registration_deadline clears it.
type UpdateChallengeRequest struct {
	Title                *string           `json:"title"`
	Description          *string           `json:"description"`
	SubjectID            *int              `json:"subject_id"`
	TopicID              *int              `json:"topic_id"`
	Difficulty           *types.Difficulty `json:"difficulty"`
	QuestionIDs          []int             `json:"question_ids"`
	TimeLimit            *int              `json:"time_limit"`
	MaxParticipants      *int              `json:"max_participants"`
	Prizes               []types.Prize     `json:"prizes"`
	Rules                *types.Rules      `json:"rules"`
	StartDate            *time.Time        `json:"start_date"`
	EndDate              *time.Time        `json:"end_date"`
	RegistrationDeadline json.RawMessage   `json:"registration_deadline"`
	Timezone             *string           `json:"timezone"`
}

func (req UpdateChallengeRequest) patch() (challenge.Patch, error) {
	p := challenge.Patch{
		Title:           req.Title,
		Description:     req.Description,
		SubjectID:       req.SubjectID,
		TopicID:         req.TopicID,
		Difficulty:      req.Difficulty,
		QuestionIDs:     req.QuestionIDs,
		TimeLimit:       req.TimeLimit,
		MaxParticipants: req.MaxParticipants,
		Prizes:          req.Prizes,
		Rules:           req.Rules,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Timezone:        req.Timezone,
	}
	switch raw := strings.TrimSpace(string(req.RegistrationDeadline)); raw {
	case "":
	case "null":
		p.ClearRegistrationDeadline = true
	default:
		var deadline time.Time
		if err := json.Unmarshal(req.RegistrationDeadline, &deadline); err != nil {
			return challenge.Patch{}, errors.New("invalid registration_deadline")
		}
		p.RegistrationDeadline = &deadline
	}
	return p, nil
}

// SubmitResultRequest is the result payload of one attempt.
type SubmitResultRequest struct {
	Score     *int `json:"score"`
	TimeSpent *int `json:"time_spent"`
}

// ChallengeListResponse is the paginated list response payload.
type ChallengeListResponse struct {
	Items []types.Challenge `json:"items"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
	Total int               `json:"total"`
}

// EventListResponse is the paginated audit trail payload.
type EventListResponse struct {
	Items []types.ChallengeEvent `json:"items"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
	Total int                    `json:"total"`
}

func challengeID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := parseIDParam(r, "challengeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return 0, false
	}
	return id, true
}

func parseChallengeFilter(r *http.Request) (types.ChallengeFilter, error) {
	var (
		filter types.ChallengeFilter
		err    error
	)
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := types.ParseChallengeStatus(raw)
		if err != nil {
			return filter, errors.New("invalid status")
		}
		filter.Status = &status
	}
	if filter.SubjectID, err = parseQueryInt(r, "subject_id"); err != nil {
		return filter, err
	}
	if filter.TopicID, err = parseQueryInt(r, "topic_id"); err != nil {
		return filter, err
	}
	if filter.CreatorID, err = parseQueryInt(r, "creator_id"); err != nil {
		return filter, err
	}
	if raw := strings.TrimSpace(q.Get("difficulty")); raw != "" {
		filter.Difficulty = types.Difficulty(strings.ToLower(raw))
		if !filter.Difficulty.Valid() {
			return filter, errors.New("invalid difficulty")
		}
	}
	if raw := strings.TrimSpace(q.Get("include_inactive")); raw != "" {
		if filter.IncludeInactive, err = strconv.ParseBool(raw); err != nil {
			return filter, errors.New("invalid include_inactive")
		}
	}
	return filter, nil
}

// IdempotencyKey is the Idempotency-Key value that makes a retried
// transition succeed once it has already been applied.
func IdempotencyKey(challengeID int, event challenge.Event) string {
	target, _ := event.Target()
	return fmt.Sprintf("%d:%s", challengeID, target)
}

func matchesIdempotencyKey(r *http.Request, challengeID int, event challenge.Event) bool {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	return key != "" && key == IdempotencyKey(challengeID, event)
}
