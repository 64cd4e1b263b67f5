package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/internal/services"
	"github.com/prepbolt/apiserver/types"
)

const testSecret = "test-secret"

type stubChallenges struct {
	err        error
	challenge  types.Challenge
	board      types.Leaderboard
	lastActor  types.Actor
	lastUserID int
	lastFilter types.ChallengeFilter
	lastPatch  challenge.Patch
	lastEvent  challenge.Event
	lastInput  services.CreateChallengeInput
}

func (s *stubChallenges) Create(_ context.Context, actor types.Actor, in services.CreateChallengeInput) (types.Challenge, error) {
	s.lastActor, s.lastInput = actor, in
	return s.challenge, s.err
}

func (s *stubChallenges) Get(context.Context, int) (types.Challenge, error) {
	return s.challenge, nil
}

func (s *stubChallenges) List(_ context.Context, filter types.ChallengeFilter, _, _ int) ([]types.Challenge, int, error) {
	s.lastFilter = filter
	return []types.Challenge{s.challenge}, 1, s.err
}

func (s *stubChallenges) Update(_ context.Context, actor types.Actor, _ int, patch challenge.Patch) (types.Challenge, error) {
	s.lastActor, s.lastPatch = actor, patch
	return s.challenge, s.err
}

func (s *stubChallenges) Transition(_ context.Context, actor types.Actor, _ int, event challenge.Event) (types.Challenge, error) {
	s.lastActor, s.lastEvent = actor, event
	return s.challenge, s.err
}

func (s *stubChallenges) Delete(_ context.Context, actor types.Actor, _ int) error {
	s.lastActor = actor
	return s.err
}

func (s *stubChallenges) Join(_ context.Context, _, userID int) (types.Challenge, error) {
	s.lastUserID = userID
	return s.challenge, s.err
}

func (s *stubChallenges) Leave(_ context.Context, _, userID int) (types.Challenge, error) {
	s.lastUserID = userID
	return s.challenge, s.err
}

func (s *stubChallenges) SubmitResult(_ context.Context, _, userID, _, _ int) (types.Challenge, error) {
	s.lastUserID = userID
	return s.challenge, s.err
}

func (s *stubChallenges) GetLeaderboard(_ context.Context, viewer types.Actor, _ int) (types.Leaderboard, error) {
	s.lastActor = viewer
	return s.board, s.err
}

func (s *stubChallenges) ListEvents(_ context.Context, actor types.Actor, _, _, _ int) ([]types.ChallengeEvent, int, error) {
	s.lastActor = actor
	return nil, 0, s.err
}

func newTestRouter(stub *stubChallenges) http.Handler {
	r := chi.NewRouter()
	r.Route("/challenges", func(r chi.Router) {
		ChallengeRouter(r, stub, nil, testSecret)
	})
	return r
}

func tokenFor(t *testing.T, id int, role string) string {
	t.Helper()
	token, err := issueToken(types.User{ID: id, Role: role}, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func do(t *testing.T, h http.Handler, method, path, auth, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"full", challenge.ErrFull, http.StatusConflict, "full"},
		{"already joined", challenge.ErrAlreadyJoined, http.StatusConflict, "already_joined"},
		{"not found", challenge.ErrNotFound, http.StatusNotFound, "not_found"},
		{"forbidden", challenge.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"validation", &challenge.ValidationError{Field: "title", Reason: "is required"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"cancel active", &challenge.TransitionError{From: types.StatusActive, Event: challenge.EventCancel}, http.StatusConflict, "locked"},
		{"conflict", challenge.ErrConflict, http.StatusConflict, "conflict"},
		{"unavailable", fmt.Errorf("%w: db down", challenge.ErrUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubChallenges{err: tt.err}
			rec := do(t, newTestRouter(stub), http.MethodPost, "/challenges/7/join", tokenFor(t, 5, types.RoleUser), "")
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if resp := decodeError(t, rec); resp.Code != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, resp.Code)
			}
		})
	}
}

func TestMutationsRequireAuth(t *testing.T) {
	h := newTestRouter(&stubChallenges{})
	for _, path := range []string{"/challenges/7/join", "/challenges/7/leave", "/challenges/7/start", "/challenges/7/results"} {
		if rec := do(t, h, http.MethodPost, path, "", "{}"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPost, "/challenges/7/join", "Bearer not-a-token", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid token to be rejected, got %d", rec.Code)
	}
}

func TestJoinUsesTokenSubject(t *testing.T) {
	stub := &stubChallenges{challenge: types.Challenge{ID: 7}}
	rec := do(t, newTestRouter(stub), http.MethodPost, "/challenges/7/join", tokenFor(t, 42, types.RoleUser), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastUserID != 42 {
		t.Fatalf("expected join as user 42, got %d", stub.lastUserID)
	}
}

func TestCreateChallengeBadRequests(t *testing.T) {
	h := newTestRouter(&stubChallenges{})
	auth := tokenFor(t, 5, types.RoleUser)
	if rec := do(t, h, http.MethodPost, "/challenges/", auth, "{not json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed body to be 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/challenges/", auth, `{"title":"Quiz"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing dates to be 400, got %d", rec.Code)
	}
}

func TestCreateChallengePassesActor(t *testing.T) {
	stub := &stubChallenges{challenge: types.Challenge{ID: 9}}
	body := `{"title":" Weekly ","start_date":"2026-05-05T09:00:00Z","end_date":"2026-05-05T10:00:00Z","max_participants":10,"status":"open"}`
	rec := do(t, newTestRouter(stub), http.MethodPost, "/challenges/", tokenFor(t, 5, types.RoleOperator), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.lastActor.ID != 5 || stub.lastActor.Role != types.RoleOperator {
		t.Fatalf("unexpected actor %+v", stub.lastActor)
	}
	if stub.lastInput.Title != "Weekly" || stub.lastInput.Status == nil || *stub.lastInput.Status != types.StatusOpen {
		t.Fatalf("unexpected input %+v", stub.lastInput)
	}
}

func TestTransitionIdempotencyKey(t *testing.T) {
	stub := &stubChallenges{
		err:       &challenge.TransitionError{From: types.StatusActive, Event: challenge.EventStart},
		challenge: types.Challenge{ID: 7, Status: types.StatusActive},
	}
	h := newTestRouter(stub)
	auth := tokenFor(t, 5, types.RoleUser)

	rec := do(t, h, http.MethodPost, "/challenges/7/start", auth, "")
	if rec.Code != http.StatusConflict || decodeError(t, rec).Code != "invalid_transition" {
		t.Fatalf("expected replay without key to conflict, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/challenges/7/start", auth, "", idempotencyHeader, IdempotencyKey(7, challenge.EventStart))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected keyed replay to succeed, got %d", rec.Code)
	}
	if stub.lastEvent != challenge.EventStart {
		t.Fatalf("expected start event, got %q", stub.lastEvent)
	}

	rec = do(t, h, http.MethodPost, "/challenges/7/start", auth, "", idempotencyHeader, "7:open")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected mismatched key to conflict, got %d", rec.Code)
	}
}

func TestLeaderboardOptionalAuth(t *testing.T) {
	stub := &stubChallenges{board: types.Leaderboard{ChallengeID: 7}}
	h := newTestRouter(stub)

	if rec := do(t, h, http.MethodGet, "/challenges/7/leaderboard", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected anonymous read, got %d", rec.Code)
	}
	if stub.lastActor != (types.Actor{}) {
		t.Fatalf("expected anonymous viewer, got %+v", stub.lastActor)
	}

	if rec := do(t, h, http.MethodGet, "/challenges/7/leaderboard", tokenFor(t, 3, types.RoleAdmin), ""); rec.Code != http.StatusOK {
		t.Fatalf("expected authenticated read, got %d", rec.Code)
	}
	if stub.lastActor.ID != 3 || !stub.lastActor.IsOperator() {
		t.Fatalf("expected admin viewer, got %+v", stub.lastActor)
	}

	if rec := do(t, h, http.MethodGet, "/challenges/7/leaderboard", "Bearer junk", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected bad token to be rejected, got %d", rec.Code)
	}
}

func TestListChallengesFilters(t *testing.T) {
	stub := &stubChallenges{}
	h := newTestRouter(stub)

	rec := do(t, h, http.MethodGet, "/challenges/?status=open&subject_id=3&difficulty=HARD&page=2&limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f := stub.lastFilter
	if f.Status == nil || *f.Status != types.StatusOpen || f.SubjectID != 3 || f.Difficulty != types.DifficultyHard {
		t.Fatalf("unexpected filter %+v", f)
	}
	var resp ChallengeListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Page != 2 || resp.Limit != 5 {
		t.Fatalf("unexpected list response %+v (err %v)", resp, err)
	}

	if rec := do(t, h, http.MethodGet, "/challenges/?status=paused", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad status to be 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/challenges/?include_inactive=true", "", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected include_inactive to need an operator, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/challenges/?include_inactive=true", tokenFor(t, 1, types.RoleOperator), ""); rec.Code != http.StatusOK {
		t.Fatalf("expected operator listing, got %d", rec.Code)
	}
}

func TestUpdateRegistrationDeadline(t *testing.T) {
	stub := &stubChallenges{}
	h := newTestRouter(stub)
	auth := tokenFor(t, 5, types.RoleUser)

	if rec := do(t, h, http.MethodPatch, "/challenges/7/", auth, `{"registration_deadline":null}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !stub.lastPatch.ClearRegistrationDeadline || stub.lastPatch.RegistrationDeadline != nil {
		t.Fatalf("expected deadline to be cleared, got %+v", stub.lastPatch)
	}

	if rec := do(t, h, http.MethodPatch, "/challenges/7/", auth, `{"title":"New"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastPatch.ClearRegistrationDeadline || stub.lastPatch.Title == nil || *stub.lastPatch.Title != "New" {
		t.Fatalf("unexpected patch %+v", stub.lastPatch)
	}

	if rec := do(t, h, http.MethodPatch, "/challenges/7/", auth, `{"registration_deadline":"soon"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad deadline to be 400, got %d", rec.Code)
	}
}

func TestSubmitResultRequiresFields(t *testing.T) {
	stub := &stubChallenges{}
	h := newTestRouter(stub)
	auth := tokenFor(t, 5, types.RoleUser)

	if rec := do(t, h, http.MethodPost, "/challenges/7/results", auth, `{"score":10}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing time_spent to be 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/challenges/7/results", auth, `{"score":10,"time_spent":0}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.lastUserID != 5 {
		t.Fatalf("expected result for user 5, got %d", stub.lastUserID)
	}
}

func TestInvalidChallengeID(t *testing.T) {
	h := newTestRouter(&stubChallenges{})
	if rec := do(t, h, http.MethodGet, "/challenges/abc/", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/challenges/7/live", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected disabled live endpoint to be 404, got %d", rec.Code)
	}
}
