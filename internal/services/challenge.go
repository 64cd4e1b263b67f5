package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prepbolt/apiserver/internal/challenge"
	"github.com/prepbolt/apiserver/internal/store"
	"github.com/prepbolt/apiserver/types"
)

const (
	defaultCASRetries  = 5
	casBackoffBase     = 5 * time.Millisecond
	casBackoffMax      = 200 * time.Millisecond
	unknownDisplayName = "unknown user"
)

// ChallengeRepository defines persistence operations for challenges.
// CompareAndSwap must fail with store.ErrVersionConflict when the stored
// version differs from expectedVersion.
type ChallengeRepository interface {
	Get(ctx context.Context, id int) (types.Challenge, error)
	List(ctx context.Context, filter types.ChallengeFilter, offset, limit int) ([]types.Challenge, int, error)
	Create(ctx context.Context, c types.Challenge, event types.ChallengeEvent) (types.Challenge, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, next types.Challenge, events ...types.ChallengeEvent) error
	ListEvents(ctx context.Context, challengeID, offset, limit int) ([]types.ChallengeEvent, int, error)
	ListExpired(ctx context.Context, before time.Time) ([]int, error)
	ListStartable(ctx context.Context, before time.Time) ([]int, error)
}

// QuestionCatalog confirms that referenced questions exist.
type QuestionCatalog interface {
	CountExisting(ctx context.Context, ids []int) (int, error)
}

// UserDirectory resolves participants for display.
type UserDirectory interface {
	GetByIDs(ctx context.Context, ids []int) ([]types.User, error)
}

// LeaderboardCache stores computed leaderboards.
type LeaderboardCache interface {
	Get(ctx context.Context, challengeID int) (types.Leaderboard, bool, error)
	Set(ctx context.Context, board types.Leaderboard) error
	Invalidate(ctx context.Context, challengeID int) error
}

// EventPublisher receives every committed challenge event.
type EventPublisher interface {
	Publish(ctx context.Context, event types.ChallengeEvent) error
}

// LeaderboardArchive keeps final leaderboards once a challenge completes.
// Load reports false when nothing was archived for the challenge.
type LeaderboardArchive interface {
	Archive(ctx context.Context, board types.Leaderboard) error
	Load(ctx context.Context, challengeID int) (types.Leaderboard, bool, error)
}

// CreateChallengeInput carries the fields a creator supplies.
type CreateChallengeInput struct {
	SubjectID            int
	TopicID              int
	Title                string
	Description          string
	Difficulty           types.Difficulty
	QuestionIDs          []int
	TimeLimit            int
	MaxParticipants      int
	Prizes               []types.Prize
	Rules                types.Rules
	StartDate            time.Time
	EndDate              time.Time
	RegistrationDeadline *time.Time
	Timezone             string
	Status               *types.ChallengeStatus
}

// ChallengeOption configures optional collaborators of a ChallengeService.
type ChallengeOption func(*ChallengeService)

func WithLeaderboardCache(cache LeaderboardCache) ChallengeOption {
	return func(s *ChallengeService) { s.cache = cache }
}

func WithEventPublishers(publishers ...EventPublisher) ChallengeOption {
	return func(s *ChallengeService) { s.publishers = append(s.publishers, publishers...) }
}

func WithLeaderboardArchive(archive LeaderboardArchive) ChallengeOption {
	return func(s *ChallengeService) { s.archive = archive }
}

func WithCASRetries(n int) ChallengeOption {
	return func(s *ChallengeService) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func WithClock(now func() time.Time) ChallengeOption {
	return func(s *ChallengeService) { s.now = now }
}

func WithLogger(logger *slog.Logger) ChallengeOption {
	return func(s *ChallengeService) { s.logger = logger }
}

// ChallengeService encapsulates challenge use-cases. Every mutation is a
// read, a pure change on a copy and a conditional write; lost races are
// retried a bounded number of times.
type ChallengeService struct {
	repo       ChallengeRepository
	questions  QuestionCatalog
	users      UserDirectory
	cache      LeaderboardCache
	publishers []EventPublisher
	archive    LeaderboardArchive
	retries    int
	now        func() time.Time
	logger     *slog.Logger
}

func NewChallengeService(repo ChallengeRepository, questions QuestionCatalog, users UserDirectory, opts ...ChallengeOption) *ChallengeService {
	s := &ChallengeService{
		repo:      repo,
		questions: questions,
		users:     users,
		retries:   defaultCASRetries,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// change describes the event produced by an accepted mutation.
type change struct {
	kind    types.ChallengeEventType
	actorID int
	userID  int
}

// mutation changes c in place. A nil change with a nil error means the
// request was accepted without modifying anything.
type mutation func(c *types.Challenge, now time.Time) (*change, error)

func (s *ChallengeService) Create(ctx context.Context, actor types.Actor, in CreateChallengeInput) (types.Challenge, error) {
	if actor.ID < 1 {
		return types.Challenge{}, challenge.ErrForbidden
	}
	now := s.now()
	c := types.Challenge{
		CreatorID:            actor.ID,
		SubjectID:            in.SubjectID,
		TopicID:              in.TopicID,
		Title:                in.Title,
		Description:          in.Description,
		Difficulty:           in.Difficulty,
		QuestionIDs:          append([]int(nil), in.QuestionIDs...),
		TimeLimit:            in.TimeLimit,
		MaxParticipants:      in.MaxParticipants,
		Prizes:               append([]types.Prize(nil), in.Prizes...),
		Rules:                in.Rules,
		StartDate:            in.StartDate,
		EndDate:              in.EndDate,
		RegistrationDeadline: in.RegistrationDeadline,
		Timezone:             in.Timezone,
		Status:               types.StatusDraft,
		IsActive:             true,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Difficulty == "" {
		c.Difficulty = types.DifficultyMedium
	}
	if in.Status != nil {
		c.Status = *in.Status
	}

	if err := challenge.ValidateNew(c, now); err != nil {
		return types.Challenge{}, err
	}
	if err := s.checkQuestions(ctx, c.QuestionIDs); err != nil {
		return types.Challenge{}, err
	}

	event := types.NewChallengeEvent(types.EventCreated, c, actor.ID, 0, now)
	created, err := s.repo.Create(ctx, c, event)
	if err != nil {
		if errors.Is(err, store.ErrInvalidReference) {
			return types.Challenge{}, &challenge.ValidationError{Field: "creator_id", Reason: "unknown user"}
		}
		return types.Challenge{}, fmt.Errorf("%w: create challenge: %v", challenge.ErrUnavailable, err)
	}
	event.ChallengeID = created.ID

	s.logger.Info("challenge created", "challenge_id", created.ID, "creator_id", actor.ID, "status", created.Status.String())
	s.afterCommit(ctx, created, event)
	return created, nil
}

func (s *ChallengeService) Get(ctx context.Context, id int) (types.Challenge, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return types.Challenge{}, err
	}
	if !c.IsActive {
		return types.Challenge{}, challenge.ErrNotFound
	}
	return c, nil
}

func (s *ChallengeService) List(ctx context.Context, filter types.ChallengeFilter, offset, limit int) ([]types.Challenge, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	items, total, err := s.repo.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list challenges: %v", challenge.ErrUnavailable, err)
	}
	return items, total, nil
}

// Update applies a partial configuration change. Running and finished
// challenges reject updates as a whole.
func (s *ChallengeService) Update(ctx context.Context, actor types.Actor, id int, patch challenge.Patch) (types.Challenge, error) {
	if patch.TouchesQuestions() {
		if err := s.checkQuestions(ctx, patch.QuestionIDs); err != nil {
			return types.Challenge{}, err
		}
	}
	return s.mutate(ctx, id, func(c *types.Challenge, now time.Time) (*change, error) {
		if !c.IsActive {
			return nil, challenge.ErrNotFound
		}
		if err := challenge.Authorize(*c, actor); err != nil {
			return nil, err
		}
		if err := challenge.ApplyPatch(c, patch, now); err != nil {
			return nil, err
		}
		return &change{kind: types.EventUpdated, actorID: actor.ID}, nil
	})
}

func (s *ChallengeService) Publish(ctx context.Context, actor types.Actor, id int) (types.Challenge, error) {
	return s.transition(ctx, actor, id, challenge.EventPublish)
}

func (s *ChallengeService) Start(ctx context.Context, actor types.Actor, id int) (types.Challenge, error) {
	return s.transition(ctx, actor, id, challenge.EventStart)
}

func (s *ChallengeService) Complete(ctx context.Context, actor types.Actor, id int) (types.Challenge, error) {
	return s.transition(ctx, actor, id, challenge.EventComplete)
}

func (s *ChallengeService) Cancel(ctx context.Context, actor types.Actor, id int) (types.Challenge, error) {
	return s.transition(ctx, actor, id, challenge.EventCancel)
}

// Transition applies the named lifecycle event.
func (s *ChallengeService) Transition(ctx context.Context, actor types.Actor, id int, event challenge.Event) (types.Challenge, error) {
	return s.transition(ctx, actor, id, event)
}

func (s *ChallengeService) transition(ctx context.Context, actor types.Actor, id int, event challenge.Event) (types.Challenge, error) {
	return s.mutate(ctx, id, func(c *types.Challenge, now time.Time) (*change, error) {
		if !c.IsActive {
			return nil, challenge.ErrNotFound
		}
		if err := challenge.Authorize(*c, actor); err != nil {
			return nil, err
		}
		if err := challenge.Apply(c, event, now); err != nil {
			return nil, err
		}
		return &change{kind: event.EventType(), actorID: actor.ID}, nil
	})
}

// Delete soft-deletes a challenge, cancelling it first when possible.
func (s *ChallengeService) Delete(ctx context.Context, actor types.Actor, id int) error {
	_, err := s.mutate(ctx, id, func(c *types.Challenge, now time.Time) (*change, error) {
		if !c.IsActive {
			return nil, challenge.ErrNotFound
		}
		if err := challenge.Authorize(*c, actor); err != nil {
			return nil, err
		}
		if err := challenge.SoftDelete(c, now); err != nil {
			return nil, err
		}
		return &change{kind: types.EventDeleted, actorID: actor.ID}, nil
	})
	return err
}

func (s *ChallengeService) Join(ctx context.Context, id, userID int) (types.Challenge, error) {
	return s.mutate(ctx, id, func(c *types.Challenge, now time.Time) (*change, error) {
		if err := challenge.Join(c, userID, now); err != nil {
			return nil, err
		}
		return &change{kind: types.EventJoined, actorID: userID, userID: userID}, nil
	})
}

func (s *ChallengeService) Leave(ctx context.Context, id, userID int) (types.Challenge, error) {
	return s.mutate(ctx, id, func(c *types.Challenge, _ time.Time) (*change, error) {
		if err := challenge.Leave(c, userID); err != nil {
			return nil, err
		}
		return &change{kind: types.EventLeft, actorID: userID, userID: userID}, nil
	})
}

func (s *ChallengeService) SubmitResult(ctx context.Context, id, userID, score, timeSpent int) (types.Challenge, error) {
	return s.mutate(ctx, id, func(c *types.Challenge, now time.Time) (*change, error) {
		changed, err := challenge.SubmitResult(c, userID, score, timeSpent, now)
		if err != nil || !changed {
			return nil, err
		}
		return &change{kind: types.EventResultSubmitted, actorID: userID, userID: userID}, nil
	})
}

// GetLeaderboard returns the ranked results of a challenge as seen by
// viewer. Display names that cannot be resolved get a placeholder.
func (s *ChallengeService) GetLeaderboard(ctx context.Context, viewer types.Actor, id int) (types.Leaderboard, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return types.Leaderboard{}, err
	}
	if !challenge.CanViewLeaderboard(c, viewer) {
		return types.Leaderboard{}, challenge.ErrForbidden
	}

	if s.cache != nil {
		board, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("leaderboard cache read failed", "challenge_id", id, "error", err)
		} else if ok && board.Version == c.Version {
			return board, nil
		}
	}

	board, archived := s.archivedLeaderboard(ctx, c)
	if !archived {
		board = s.buildLeaderboard(ctx, c)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, board); err != nil {
			s.logger.Warn("leaderboard cache write failed", "challenge_id", id, "error", err)
		}
	}
	return board, nil
}

func (s *ChallengeService) archivedLeaderboard(ctx context.Context, c types.Challenge) (types.Leaderboard, bool) {
	if s.archive == nil || c.Status != types.StatusCompleted {
		return types.Leaderboard{}, false
	}
	board, ok, err := s.archive.Load(ctx, c.ID)
	if err != nil {
		s.logger.Warn("load archived leaderboard failed", "challenge_id", c.ID, "error", err)
		return types.Leaderboard{}, false
	}
	if !ok || board.Version != c.Version {
		return types.Leaderboard{}, false
	}
	return board, true
}

func (s *ChallengeService) buildLeaderboard(ctx context.Context, c types.Challenge) types.Leaderboard {
	board := challenge.BuildLeaderboard(c)
	if len(board.Entries) == 0 {
		return board
	}

	names := make(map[int]string, len(board.Entries))
	if s.users != nil {
		ids := make([]int, len(board.Entries))
		for i, e := range board.Entries {
			ids[i] = e.UserID
		}
		users, err := s.users.GetByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("resolve leaderboard users failed", "challenge_id", c.ID, "error", err)
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName()
		}
	}
	for i := range board.Entries {
		name, ok := names[board.Entries[i].UserID]
		if !ok || name == "" {
			name = unknownDisplayName
		}
		board.Entries[i].DisplayName = name
	}
	return board
}

// ListEvents returns the audit trail of a challenge to its creator or an
// operator.
func (s *ChallengeService) ListEvents(ctx context.Context, actor types.Actor, id, offset, limit int) ([]types.ChallengeEvent, int, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if err := challenge.Authorize(c, actor); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	events, total, err := s.repo.ListEvents(ctx, id, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list events: %v", challenge.ErrUnavailable, err)
	}
	return events, total, nil
}

// CompleteExpired completes every active challenge whose end date has
// passed. It returns how many challenges it completed.
func (s *ChallengeService) CompleteExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: list expired: %v", challenge.ErrUnavailable, err)
	}
	return s.sweep(ctx, ids, challenge.EventComplete)
}

// StartDue starts every open challenge whose start date has arrived.
func (s *ChallengeService) StartDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.ListStartable(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%w: list startable: %v", challenge.ErrUnavailable, err)
	}
	return s.sweep(ctx, ids, challenge.EventStart)
}

func (s *ChallengeService) sweep(ctx context.Context, ids []int, event challenge.Event) (int, error) {
	var (
		done int
		errs []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, err := s.transition(ctx, types.SystemActor, id, event)
		switch {
		case err == nil:
			done++
		case errors.Is(err, challenge.ErrInvalidTransition), errors.Is(err, challenge.ErrNotFound):
			// Moved on since it was listed.
			s.logger.Debug("sweep skipped challenge", "challenge_id", id, "event", string(event), "error", err)
		default:
			errs = append(errs, fmt.Errorf("challenge %d: %w", id, err))
		}
	}
	return done, errors.Join(errs...)
}

func (s *ChallengeService) mutate(ctx context.Context, id int, fn mutation) (types.Challenge, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.load(ctx, id)
		if err != nil {
			return types.Challenge{}, err
		}

		now := s.now()
		next := current.Clone()
		ch, err := fn(&next, now)
		if err != nil {
			return types.Challenge{}, err
		}
		if ch == nil {
			return current, nil
		}
		if err := challenge.CheckInvariants(next); err != nil {
			return types.Challenge{}, fmt.Errorf("challenge %d: refusing to persist: %w", id, err)
		}

		next.Version = current.Version + 1
		next.UpdatedAt = now
		event := types.NewChallengeEvent(ch.kind, next, ch.actorID, ch.userID, now)

		err = s.repo.CompareAndSwap(ctx, current.Version, next, event)
		switch {
		case err == nil:
			s.afterCommit(ctx, next, event)
			return next, nil
		case errors.Is(err, store.ErrVersionConflict):
			if attempt >= s.retries {
				s.logger.Warn("challenge update lost too many races", "challenge_id", id, "event", string(ch.kind), "attempts", attempt+1)
				return types.Challenge{}, challenge.ErrConflict
			}
			if err := sleepBackoff(ctx, attempt); err != nil {
				return types.Challenge{}, err
			}
		case errors.Is(err, store.ErrNotFound):
			return types.Challenge{}, challenge.ErrNotFound
		default:
			return types.Challenge{}, fmt.Errorf("%w: update challenge %d: %v", challenge.ErrUnavailable, id, err)
		}
	}
}

func (s *ChallengeService) load(ctx context.Context, id int) (types.Challenge, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Challenge{}, challenge.ErrNotFound
		}
		return types.Challenge{}, fmt.Errorf("%w: get challenge %d: %v", challenge.ErrUnavailable, id, err)
	}
	return c, nil
}

func (s *ChallengeService) checkQuestions(ctx context.Context, ids []int) error {
	if s.questions == nil || len(ids) == 0 {
		return nil
	}
	unique := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	n, err := s.questions.CountExisting(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: question catalog: %v", challenge.ErrUnavailable, err)
	}
	if n != len(unique) {
		return &challenge.ValidationError{Field: "question_ids", Reason: fmt.Sprintf("%d of %d questions do not exist", len(unique)-n, len(unique))}
	}
	return nil
}

// afterCommit runs the side channels of an accepted mutation. Failures are
// logged and never reported to the caller.
func (s *ChallengeService) afterCommit(ctx context.Context, c types.Challenge, event types.ChallengeEvent) {
	if s.cache != nil && (event.Type == types.EventResultSubmitted || event.Type == types.EventCompleted) {
		if err := s.cache.Invalidate(ctx, c.ID); err != nil {
			s.logger.Warn("leaderboard cache invalidation failed", "challenge_id", c.ID, "error", err)
		}
	}

	if event.Type == types.EventCompleted {
		board := s.buildLeaderboard(ctx, c)
		if s.archive != nil {
			if err := s.archive.Archive(ctx, board); err != nil {
				s.logger.Error("archive leaderboard failed", "challenge_id", c.ID, "error", err)
			}
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, board); err != nil {
				s.logger.Warn("leaderboard cache write failed", "challenge_id", c.ID, "error", err)
			}
		}
	}

	for _, p := range s.publishers {
		if err := p.Publish(ctx, event); err != nil {
			s.logger.Warn("publish challenge event failed", "challenge_id", c.ID, "event", string(event.Type), "error", err)
		}
	}
	s.logger.Debug("challenge event committed", "challenge_id", c.ID, "event", string(event.Type), "version", c.Version)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	d := casBackoffBase << attempt
	if d > casBackoffMax || d <= 0 {
		d = casBackoffMax
	}
	d = d/2 + rand.N(d/2+1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
