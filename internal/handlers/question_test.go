package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prepbolt/apiserver/internal/services"
	"github.com/prepbolt/apiserver/internal/store"
	"github.com/prepbolt/apiserver/types"
)

type memoryQuestions struct {
	questions []types.Question
}

func (m *memoryQuestions) List(_ context.Context, _, _, offset, limit int) ([]types.Question, int, error) {
	end := min(offset+limit, len(m.questions))
	if offset > end {
		offset = end
	}
	return m.questions[offset:end], len(m.questions), nil
}

func (m *memoryQuestions) Get(_ context.Context, id int) (types.Question, error) {
	for _, q := range m.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return types.Question{}, store.ErrNotFound
}

func (m *memoryQuestions) Create(_ context.Context, q types.Question) (types.Question, error) {
	q.ID = len(m.questions) + 1
	m.questions = append(m.questions, q)
	return q, nil
}

func (m *memoryQuestions) CountExisting(context.Context, []int) (int, error) {
	return len(m.questions), nil
}

func TestQuestionRoutes(t *testing.T) {
	users := newMemoryUsers()
	users.users[1] = types.User{ID: 1, Username: "root", Role: types.RoleAdmin}
	users.users[2] = types.User{ID: 2, Username: "ann", Role: types.RoleUser}

	r := chi.NewRouter()
	r.Route("/questions", func(r chi.Router) {
		QuestionRouter(r, services.NewQuestionService(&memoryQuestions{}), users, RequireAuth(testSecret))
	})

	body := `{"subject_id":1,"prompt":"2+2?","options":["3","4"],"answer_index":1}`
	if rec := do(t, r, http.MethodPost, "/questions/", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/questions/", tokenFor(t, 2, types.RoleUser), body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected non-admin to be 403, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/questions/", tokenFor(t, 1, types.RoleAdmin), `{"prompt":"?","options":["only"]}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected invalid question to be 422, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/questions/", tokenFor(t, 1, types.RoleAdmin), body); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, r, http.MethodGet, "/questions/1", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/questions/9", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/questions/?limit=5", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
