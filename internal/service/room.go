package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nuhaa333/chat-app/internal/domain"
	"github.com/nuhaa333/chat-app/internal/fanout"
	"github.com/nuhaa333/chat-app/internal/repository"
	"github.com/nuhaa333/chat-app/internal/tasks"
)

const (
	maxRoomName       = 100
	unreadConcurrency = 8
)

// TaskEnqueuer is the subset of *asynq.Client the services use.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RoomService is the room directory.
type RoomService struct {
	roomRepo   repository.RoomRepository
	msgRepo    repository.MessageRepository
	userRepo   repository.UserRepository
	typingRepo repository.TypingRepository // optional
	pub        fanout.Publisher
	tasks      TaskEnqueuer // nil purges inline
	retry      RetryPolicy

	pairs  singleflight.Group
	unread singleflight.Group
}

// RoomServiceOption configures optional RoomService collaborators.
type RoomServiceOption func(*RoomService)

// WithTypingStore lets purges clear the room's typing state.
func WithTypingStore(repo repository.TypingRepository) RoomServiceOption {
	return func(s *RoomService) { s.typingRepo = repo }
}

// WithTaskEnqueuer defers purges to the background worker.
func WithTaskEnqueuer(q TaskEnqueuer) RoomServiceOption {
	return func(s *RoomService) { s.tasks = q }
}

// WithRoomRetryPolicy overrides DefaultRetryPolicy.
func WithRoomRetryPolicy(p RetryPolicy) RoomServiceOption {
	return func(s *RoomService) { s.retry = p }
}

// NewRoomService creates a RoomService.
func NewRoomService(roomRepo repository.RoomRepository, msgRepo repository.MessageRepository, userRepo repository.UserRepository, pub fanout.Publisher, opts ...RoomServiceOption) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if msgRepo == nil {
		panic("MessageRepository cannot be nil for RoomService")
	}
	if userRepo == nil {
		panic("UserRepository cannot be nil for RoomService")
	}
	if pub == nil {
		panic("Publisher cannot be nil for RoomService")
	}
	s := &RoomService{roomRepo: roomRepo, msgRepo: msgRepo, userRepo: userRepo, pub: pub, retry: DefaultRetryPolicy}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreatePrivateRoom returns the single private room of the pair,
// creating it on first contact. Argument order does not matter.
func (s *RoomService) GetOrCreatePrivateRoom(ctx context.Context, userA, userB string) (*domain.Room, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: a private room needs two distinct users", ErrInvalidRoom)
	}
	if err := s.ensureUsersExist(ctx, []string{userA, userB}); err != nil {
		return nil, err
	}

	key := domain.PairKey(userA, userB)
	v, err, shared := s.pairs.Do(key, func() (interface{}, error) {
		return s.getOrCreatePair(ctx, key, userA, userB)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logrus.WithField("pair_key", key).Debug("Private room lookup shared with a concurrent caller")
	}
	return v.(*domain.Room), nil
}

func (s *RoomService) getOrCreatePair(ctx context.Context, key, userA, userB string) (*domain.Room, error) {
	logCtx := logrus.WithField("pair_key", key)

	room, err := s.findByPairKey(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Error("Failed to look up private room")
		return nil, mapRepoError(err)
	}

	room = &domain.Room{
		ID:        uuid.NewString(),
		IsGroup:   false,
		CreatedBy: userA,
		PairKey:   &key,
		Participants: []domain.RoomParticipant{
			{UserID: userA},
			{UserID: userB},
		},
	}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// Another process created the pair first.
			logCtx.Info("Private room created concurrently, reusing winner")
			existing, findErr := s.findByPairKey(ctx, key)
			if findErr != nil {
				return nil, mapRepoError(findErr)
			}
			return existing, nil
		}
		logCtx.WithError(err).Error("Failed to create private room")
		return nil, mapRepoError(err)
	}
	logCtx.WithField("room_id", room.ID).Info("Private room created")
	return room, nil
}

func (s *RoomService) findByPairKey(ctx context.Context, key string) (*domain.Room, error) {
	var room *domain.Room
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		room, err = s.roomRepo.FindByPairKey(ctx, key)
		return err
	})
	return room, err
}

// CreateGroup always creates a new group room containing the creator and members.
func (s *RoomService) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string, imageURL string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxRoomName {
		return nil, fmt.Errorf("%w: group name must be 1-%d characters", ErrInvalidRoom, maxRoomName)
	}
	if creatorID == "" {
		return nil, fmt.Errorf("%w: missing creator", ErrInvalidRoom)
	}
	participants := dedupe(append([]string{creatorID}, memberIDs...))
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: a group needs at least two participants", ErrInvalidRoom)
	}
	if err := s.ensureUsersExist(ctx, participants); err != nil {
		return nil, err
	}

	room := &domain.Room{
		ID:        uuid.NewString(),
		IsGroup:   true,
		Name:      name,
		ImageURL:  strings.TrimSpace(imageURL),
		CreatedBy: creatorID,
	}
	for _, id := range participants {
		room.Participants = append(room.Participants, domain.RoomParticipant{UserID: id})
	}

	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "creator_id": creatorID, "members": len(participants)})
	if err := s.roomRepo.Create(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to create group")
		return nil, mapRepoError(err)
	}
	logCtx.Info("Group created")
	return room, nil
}

// AddMembers adds users to a group. Members added later have no read
// entries on earlier messages.
func (s *RoomService) AddMembers(ctx context.Context, actorID, roomID string, memberIDs []string) (*domain.Room, error) {
	room, err := s.GetRoom(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if !room.IsGroup {
		return nil, fmt.Errorf("%w: members cannot be added to a private room", ErrInvalidRoom)
	}

	var added []string
	for _, id := range dedupe(memberIDs) {
		if id != "" && !room.HasParticipant(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return room, nil
	}
	if err := s.ensureUsersExist(ctx, added); err != nil {
		return nil, err
	}

	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "added": len(added)})
	err = retryIdempotent(ctx, s.retry, func() error {
		return s.roomRepo.AddParticipants(ctx, roomID, added)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to add group members")
		return nil, mapRepoError(err)
	}
	logCtx.Info("Group members added")
	return s.GetRoom(ctx, roomID, actorID)
}

// GetRoom loads a room the viewer participates in.
func (s *RoomService) GetRoom(ctx context.Context, roomID, viewerID string) (*domain.Room, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(viewerID) {
		return nil, ErrPermissionDenied
	}
	return room, nil
}

func (s *RoomService) loadRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	if roomID == "" {
		return nil, ErrRoomNotFound
	}
	var room *domain.Room
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		room, err = s.roomRepo.FindByID(ctx, roomID)
		return err
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithField("room_id", roomID).WithError(err).Error("Failed to load room")
		}
		return nil, mapRepoError(err)
	}
	return room, nil
}

// ListRooms returns the user's rooms, most recent activity first, each with
// the user's unread count.
func (s *RoomService) ListRooms(ctx context.Context, userID string) ([]domain.RoomSummary, error) {
	var rooms []domain.Room
	err := retryIdempotent(ctx, s.retry, func() error {
		var err error
		rooms, err = s.roomRepo.ListForUser(ctx, userID)
		return err
	})
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("Failed to list rooms")
		return nil, mapRepoError(err)
	}

	summaries := make([]domain.RoomSummary, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unreadConcurrency)
	for i := range rooms {
		i := i
		room := &rooms[i]
		summaries[i] = domain.RoomSummary{
			Room:         room,
			Participants: room.ParticipantIDs(),
			Peer:         room.Peer(userID),
		}
		g.Go(func() error {
			n, err := s.unreadCount(gctx, room.ID, userID)
			if err != nil {
				return err
			}
			summaries[i].Unread = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// unreadCount collapses identical concurrent count queries.
func (s *RoomService) unreadCount(ctx context.Context, roomID, userID string) (int64, error) {
	v, err, _ := s.unread.Do(roomID+"|"+userID, func() (interface{}, error) {
		var n int64
		err := retryIdempotent(ctx, s.retry, func() error {
			var err error
			n, err = s.msgRepo.CountUnread(ctx, roomID, userID)
			return err
		})
		return n, err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).WithError(err).Error("Failed to count unread messages")
		return 0, mapRepoError(err)
	}
	return v.(int64), nil
}

// DeleteRoom hides the room immediately and schedules the purge of its data.
func (s *RoomService) DeleteRoom(ctx context.Context, actorID, roomID string) error {
	if _, err := s.GetRoom(ctx, roomID, actorID); err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID})

	if err := s.roomRepo.SoftDelete(ctx, roomID); err != nil {
		logCtx.WithError(err).Error("Failed to soft delete room")
		return mapRepoError(err)
	}
	publish(ctx, s.pub, fanout.RoomEventsTopic(roomID), fanout.KindRoomDeleted,
		RoomDeletedEvent{RoomID: roomID, DeletedBy: actorID}, logCtx)

	if s.tasks == nil {
		if err := s.Purge(ctx, roomID); err != nil {
			logCtx.WithError(err).Warn("Inline purge failed; room stays soft-deleted")
		}
		return nil
	}
	task, err := tasks.NewRoomPurgeTask(roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build purge task")
		return nil
	}
	if _, err := s.tasks.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		logCtx.WithError(err).Warn("Failed to enqueue purge task; room stays soft-deleted")
	} else {
		logCtx.Info("Room deleted, purge scheduled")
	}
	return nil
}

// Purge removes every row and ephemeral entry owned by the room.
func (s *RoomService) Purge(ctx context.Context, roomID string) error {
	logCtx := logrus.WithField("room_id", roomID)
	err := retryIdempotent(ctx, s.retry, func() error {
		return s.roomRepo.Purge(ctx, roomID)
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to purge room")
		return mapRepoError(err)
	}
	if s.typingRepo != nil {
		if err := s.typingRepo.Clear(ctx, roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to clear typing state during purge")
		}
	}
	logCtx.Info("Room purged")
	return nil
}

// RoomIDsFor lists the ids of the user's rooms.
func (s *RoomService) RoomIDsFor(ctx context.Context, userID string) ([]string, error) {
	rooms, err := s.roomRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *RoomService) ensureUsersExist(ctx context.Context, ids []string) error {
	users, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return mapRepoError(err)
	}
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: unknown users %s", ErrUserNotFound, strings.Join(missing, ", "))
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
