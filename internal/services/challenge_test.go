package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/internal/store"
	"github.com/prepbolt/apiserver/types"
)

type memoryChallengeRepo struct {
	mu        sync.Mutex
	nextID    int
	items     map[int]types.Challenge
	events    []types.ChallengeEvent
	conflicts int // forced CompareAndSwap failures remaining
	casCalls  int
}

func newMemoryChallengeRepo() *memoryChallengeRepo {
	return &memoryChallengeRepo{nextID: 1, items: make(map[int]types.Challenge)}
}

func (r *memoryChallengeRepo) Get(_ context.Context, id int) (types.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return types.Challenge{}, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *memoryChallengeRepo) List(_ context.Context, filter types.ChallengeFilter, offset, limit int) ([]types.Challenge, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Challenge
	for _, c := range r.items {
		if !filter.IncludeInactive && !c.IsActive {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.CreatorID > 0 && c.CreatorID != filter.CreatorID {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memoryChallengeRepo) Create(_ context.Context, c types.Challenge, event types.ChallengeEvent) (types.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	r.items[c.ID] = c.Clone()
	event.ChallengeID = c.ID
	r.events = append(r.events, event)
	return c, nil
}

func (r *memoryChallengeRepo) CompareAndSwap(_ context.Context, expectedVersion int64, next types.Challenge, events ...types.ChallengeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.conflicts > 0 {
		r.conflicts--
		return store.ErrVersionConflict
	}
	current, ok := r.items[next.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	r.items[next.ID] = next.Clone()
	r.events = append(r.events, events...)
	return nil
}

func (r *memoryChallengeRepo) ListEvents(_ context.Context, challengeID, offset, limit int) ([]types.ChallengeEvent, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ChallengeEvent
	for _, ev := range r.events {
		if ev.ChallengeID == challengeID {
			out = append(out, ev)
		}
	}
	return out, len(out), nil
}

func (r *memoryChallengeRepo) ListExpired(_ context.Context, before time.Time) ([]int, error) {
	return r.listIDs(func(c types.Challenge) bool {
		return c.IsActive && c.Status == types.StatusActive && c.EndDate.Before(before)
	}), nil
}

func (r *memoryChallengeRepo) ListStartable(_ context.Context, before time.Time) ([]int, error) {
	return r.listIDs(func(c types.Challenge) bool {
		return c.IsActive && c.Status == types.StatusOpen && !c.StartDate.After(before)
	}), nil
}

func (r *memoryChallengeRepo) listIDs(match func(types.Challenge) bool) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for id, c := range r.items {
		if match(c) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

type staticCatalog struct {
	known map[int]bool
	err   error
}

func (c staticCatalog) CountExisting(_ context.Context, ids []int) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	seen := map[int]bool{}
	for _, id := range ids {
		if c.known[id] {
			seen[id] = true
		}
	}
	return len(seen), nil
}

type staticDirectory struct {
	users map[int]types.User
	err   error
}

func (d staticDirectory) GetByIDs(_ context.Context, ids []int) ([]types.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []types.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.ChallengeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev types.ChallengeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) kinds() []types.ChallengeEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ChallengeEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type recordingArchive struct {
	boards []types.Leaderboard
	loads  int
}

func (a *recordingArchive) Archive(_ context.Context, board types.Leaderboard) error {
	a.boards = append(a.boards, board)
	return nil
}

func (a *recordingArchive) Load(_ context.Context, challengeID int) (types.Leaderboard, bool, error) {
	a.loads++
	for i := len(a.boards) - 1; i >= 0; i-- {
		if a.boards[i].ChallengeID == challengeID {
			return a.boards[i], true, nil
		}
	}
	return types.Leaderboard{}, false, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var (
	creator  = types.Actor{ID: 100, Role: types.RoleUser}
	operator = types.Actor{ID: 1, Role: types.RoleOperator}
	baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc       *ChallengeService
	repo      *memoryChallengeRepo
	clock     *testClock
	publisher *recordingPublisher
	archive   *recordingArchive
}

func newFixture(t *testing.T, opts ...ChallengeOption) fixture {
	t.Helper()
	f := fixture{
		repo:      newMemoryChallengeRepo(),
		clock:     &testClock{now: baseTime},
		publisher: &recordingPublisher{},
		archive:   &recordingArchive{},
	}
	catalog := staticCatalog{known: map[int]bool{1: true, 2: true, 3: true}}
	directory := staticDirectory{users: map[int]types.User{
		1: {ID: 1, Username: "ann", Name: "Ann"},
		2: {ID: 2, Username: "bob"},
	}}
	all := append([]ChallengeOption{
		WithClock(f.clock.Now),
		WithEventPublishers(f.publisher),
		WithLeaderboardArchive(f.archive),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	f.svc = NewChallengeService(f.repo, catalog, directory, all...)
	return f
}

func validInput(maxParticipants int) CreateChallengeInput {
	return CreateChallengeInput{
		Title:           "Weekly physics",
		Difficulty:      types.DifficultyEasy,
		QuestionIDs:     []int{1, 2},
		TimeLimit:       900,
		MaxParticipants: maxParticipants,
		Prizes:          []types.Prize{{Rank: 1, Reward: "badge"}},
		StartDate:       baseTime.Add(24 * time.Hour),
		EndDate:         baseTime.Add(26 * time.Hour),
	}
}

func createOpen(t *testing.T, f fixture, maxParticipants int) types.Challenge {
	t.Helper()
	c, err := f.svc.Create(context.Background(), creator, validInput(maxParticipants))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c, err = f.svc.Publish(context.Background(), creator, c.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return c
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, creator, validInput(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != types.StatusDraft || !c.IsActive || c.Version != 1 || c.Timezone != "UTC" {
		t.Fatalf("unexpected defaults: %+v", c)
	}

	in := validInput(5)
	in.QuestionIDs = []int{1, 42}
	if _, err := f.svc.Create(ctx, creator, in); !errors.Is(err, challenge.ErrValidation) {
		t.Fatalf("expected unknown question to fail validation, got %v", err)
	}

	in = validInput(5)
	in.StartDate = baseTime.Add(-time.Hour)
	if _, err := f.svc.Create(ctx, creator, in); !errors.Is(err, challenge.ErrValidation) {
		t.Fatalf("expected past start to fail validation, got %v", err)
	}

	if _, err := f.svc.Create(ctx, types.Actor{}, validInput(5)); !errors.Is(err, challenge.ErrForbidden) {
		t.Fatalf("expected anonymous create to be forbidden, got %v", err)
	}
}

func TestCreateCatalogUnavailable(t *testing.T) {
	repo := newMemoryChallengeRepo()
	svc := NewChallengeService(repo, staticCatalog{err: errors.New("connection refused")}, nil,
		WithClock(func() time.Time { return baseTime }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err := svc.Create(context.Background(), creator, validInput(5))
	if !errors.Is(err, challenge.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t, WithCASRetries(100))
	c := createOpen(t, f, 3)

	const joiners = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			_, err := f.svc.Join(context.Background(), c.ID, userID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}(1000 + i)
	}
	wg.Wait()

	if successes != 3 {
		t.Fatalf("expected 3 successful joins, got %d", successes)
	}
	for _, err := range failures {
		if !errors.Is(err, challenge.ErrFull) {
			t.Fatalf("expected remaining joins to fail with ErrFull, got %v", err)
		}
	}
	stored, err := f.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %v", stored.Participants)
	}
}

func TestConcurrentDuplicateJoin(t *testing.T) {
	f := newFixture(t, WithCASRetries(100))
	c := createOpen(t, f, 10)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Join(context.Background(), c.ID, 7)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, challenge.ErrAlreadyJoined):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful join, got %d", ok)
	}
}

func TestCASRetriesThenConflict(t *testing.T) {
	f := newFixture(t, WithCASRetries(2))
	c := createOpen(t, f, 5)

	f.repo.mu.Lock()
	f.repo.conflicts = 3
	f.repo.casCalls = 0
	f.repo.mu.Unlock()

	_, err := f.svc.Join(context.Background(), c.ID, 5)
	if !errors.Is(err, challenge.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if f.repo.casCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.repo.casCalls)
	}

	f.repo.mu.Lock()
	f.repo.conflicts = 2
	f.repo.mu.Unlock()
	if _, err := f.svc.Join(context.Background(), c.ID, 5); err != nil {
		t.Fatalf("expected join to succeed after retries, got %v", err)
	}
}

func TestTransitionsRequireCreatorOrOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, creator, validInput(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stranger := types.Actor{ID: 55, Role: types.RoleUser}
	if _, err := f.svc.Publish(ctx, stranger, c.ID); !errors.Is(err, challenge.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Publish(ctx, operator, c.ID); err != nil {
		t.Fatalf("operator publish: %v", err)
	}
	if _, err := f.svc.Complete(ctx, operator, c.ID); !errors.Is(err, challenge.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelActiveIsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createOpen(t, f, 5)
	if _, err := f.svc.Start(ctx, creator, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := f.svc.Cancel(ctx, creator, c.ID)
	if !errors.Is(err, challenge.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := f.svc.Delete(ctx, creator, c.ID); !errors.Is(err, challenge.ErrLocked) {
		t.Fatalf("expected delete of active challenge to be locked, got %v", err)
	}
}

func TestRejectedOperationDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createOpen(t, f, 5)
	before, _ := f.repo.Get(ctx, c.ID)

	if _, err := f.svc.SubmitResult(ctx, c.ID, 1, 10, 10); !errors.Is(err, challenge.ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	after, _ := f.repo.Get(ctx, c.ID)
	if after.Version != before.Version {
		t.Fatalf("rejected operation bumped version %d -> %d", before.Version, after.Version)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createOpen(t, f, 5)

	title := "Renamed"
	updated, err := f.svc.Update(ctx, creator, c.ID, challenge.Patch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != title || updated.Version != c.Version+1 {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if _, err := f.svc.Update(ctx, creator, c.ID, challenge.Patch{QuestionIDs: []int{99}}); !errors.Is(err, challenge.ErrValidation) {
		t.Fatalf("expected unknown question to be rejected, got %v", err)
	}

	if err := f.svc.Delete(ctx, creator, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, c.ID); !errors.Is(err, challenge.ErrNotFound) {
		t.Fatalf("expected deleted challenge to be hidden, got %v", err)
	}
	items, total, err := f.svc.List(ctx, types.ChallengeFilter{}, 0, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("expected empty listing, got %d items (total %d, err %v)", len(items), total, err)
	}
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createOpen(t, f, 2)

	if _, err := f.svc.Join(ctx, c.ID, 1); err != nil {
		t.Fatalf("join user1: %v", err)
	}
	if _, err := f.svc.Join(ctx, c.ID, 2); err != nil {
		t.Fatalf("join user2: %v", err)
	}
	if _, err := f.svc.Join(ctx, c.ID, 3); !errors.Is(err, challenge.ErrFull) {
		t.Fatalf("expected third join to fail with ErrFull, got %v", err)
	}

	f.clock.Set(c.StartDate)
	if _, err := f.svc.Start(ctx, creator, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Leave(ctx, c.ID, 1); !errors.Is(err, challenge.ErrLocked) {
		t.Fatalf("expected leave after start to be locked, got %v", err)
	}
	if _, err := f.svc.SubmitResult(ctx, c.ID, 1, 80, 300); err != nil {
		t.Fatalf("submit user1: %v", err)
	}
	if _, err := f.svc.SubmitResult(ctx, c.ID, 2, 95, 400); err != nil {
		t.Fatalf("submit user2: %v", err)
	}

	if _, err := f.svc.GetLeaderboard(ctx, types.Actor{}, c.ID); !errors.Is(err, challenge.ErrForbidden) {
		t.Fatalf("expected hidden provisional board, got %v", err)
	}

	completed, err := f.svc.Complete(ctx, creator, c.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != types.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("unexpected completed challenge %+v", completed)
	}

	board, err := f.svc.GetLeaderboard(ctx, types.Actor{}, c.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if !board.Final || len(board.Entries) != 2 {
		t.Fatalf("unexpected board %+v", board)
	}
	first, second := board.Entries[0], board.Entries[1]
	if first.UserID != 2 || first.Score != 95 || first.Rank != 1 || first.Prize != "badge" || first.DisplayName != "bob" {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if second.UserID != 1 || second.Score != 80 || second.Rank != 2 || second.DisplayName != "Ann" {
		t.Fatalf("unexpected second entry %+v", second)
	}

	if len(f.archive.boards) != 1 || f.archive.boards[0].ChallengeID != c.ID {
		t.Fatalf("expected final board to be archived once, got %+v", f.archive.boards)
	}
	if f.archive.loads != 1 {
		t.Fatalf("expected completed board to be served from the archive, loads=%d", f.archive.loads)
	}

	want := []types.ChallengeEventType{
		types.EventCreated, types.EventPublished, types.EventJoined, types.EventJoined,
		types.EventStarted, types.EventResultSubmitted, types.EventResultSubmitted, types.EventCompleted,
	}
	got := f.publisher.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	events, total, err := f.svc.ListEvents(ctx, creator, c.ID, 0, 50)
	if err != nil || total != len(want) || len(events) != len(want) {
		t.Fatalf("unexpected audit trail: %d events (total %d, err %v)", len(events), total, err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Version <= events[i-1].Version {
			t.Fatalf("audit trail versions not increasing: %d then %d", events[i-1].Version, events[i].Version)
		}
	}
}

func TestLeaderboardUnknownUserPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := createOpen(t, f, 5)
	if _, err := f.svc.Join(ctx, c.ID, 77); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.svc.Start(ctx, creator, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.SubmitResult(ctx, c.ID, 77, 10, 10); err != nil {
		t.Fatalf("submit: %v", err)
	}
	board, err := f.svc.GetLeaderboard(ctx, creator, c.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Final || board.Entries[0].DisplayName != unknownDisplayName {
		t.Fatalf("unexpected board %+v", board)
	}
}

func TestPublisherFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	if _, err := f.svc.Create(context.Background(), creator, validInput(5)); err != nil {
		t.Fatalf("create with failing broker: %v", err)
	}
}

func TestCompleteExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	running := createOpen(t, f, 5)
	waiting := createOpen(t, f, 5)
	if _, err := f.svc.Start(ctx, creator, running.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	n, err := f.svc.CompleteExpired(ctx, running.EndDate.Add(-time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("expected nothing to expire yet, got n=%d err=%v", n, err)
	}

	n, err = f.svc.CompleteExpired(ctx, running.EndDate.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one completion, got n=%d err=%v", n, err)
	}
	got, _ := f.svc.Get(ctx, running.ID)
	if got.Status != types.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	n, err = f.svc.StartDue(ctx, waiting.StartDate)
	if err != nil || n != 1 {
		t.Fatalf("expected one start, got n=%d err=%v", n, err)
	}
}
