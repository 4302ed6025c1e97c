package repost

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/database/models"
	"tgvk-repost-bot/internal/lock"
	"tgvk-repost-bot/internal/packer"
	"tgvk-repost-bot/internal/queue"
	"tgvk-repost-bot/internal/vk"
)

type MockPostRepo struct {
	mock.Mock
}

func (m *MockPostRepo) CreatePost(ctx context.Context, post *models.Post, items []models.MediaItem) (bool, error) {
	args := m.Called(ctx, post, items)
	return args.Bool(0), args.Error(1)
}

func (m *MockPostRepo) GetPost(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockPostRepo) GetPostByChannelMessage(ctx context.Context, channelID, messageID int64) (*models.Post, error) {
	args := m.Called(ctx, channelID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockPostRepo) ListAlbumPosts(ctx context.Context, mediaGroupID string) ([]models.Post, error) {
	args := m.Called(ctx, mediaGroupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Post), args.Error(1)
}

func (m *MockPostRepo) ListRecentPosts(ctx context.Context, limit int) ([]models.Post, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Post), args.Error(1)
}

func (m *MockPostRepo) ListMediaForPosts(ctx context.Context, postIDs []primitive.ObjectID) ([]models.MediaItem, error) {
	args := m.Called(ctx, postIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MediaItem), args.Error(1)
}

func (m *MockPostRepo) SetPostStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type MockAlbumRepo struct {
	mock.Mock
}

func (m *MockAlbumRepo) Touch(ctx context.Context, mediaGroupID string, firstPostID primitive.ObjectID) (*models.AlbumState, error) {
	args := m.Called(ctx, mediaGroupID, firstPostID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AlbumState), args.Error(1)
}

func (m *MockAlbumRepo) Get(ctx context.Context, mediaGroupID string) (*models.AlbumState, error) {
	args := m.Called(ctx, mediaGroupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AlbumState), args.Error(1)
}

func (m *MockAlbumRepo) MarkFinalized(ctx context.Context, mediaGroupID string) error {
	args := m.Called(ctx, mediaGroupID)
	return args.Error(0)
}

type MockPublishRepo struct {
	mock.Mock
}

func (m *MockPublishRepo) Create(ctx context.Context, record *models.PublishRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockPublishRepo) GetByPostID(ctx context.Context, postID primitive.ObjectID) (*models.PublishRecord, error) {
	args := m.Called(ctx, postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PublishRecord), args.Error(1)
}

type MockJobRepo struct {
	mock.Mock
}

func (m *MockJobRepo) Create(ctx context.Context, kind, status string, postID *primitive.ObjectID, mediaGroupID string) (primitive.ObjectID, error) {
	args := m.Called(ctx, kind, status, postID, mediaGroupID)
	return args.Get(0).(primitive.ObjectID), args.Error(1)
}

func (m *MockJobRepo) Update(ctx context.Context, id primitive.ObjectID, status string, retries *int, lastError string) error {
	args := m.Called(ctx, id, status, retries, lastError)
	return args.Error(0)
}

func (m *MockJobRepo) ListRecentErrors(ctx context.Context, limit int) ([]models.Job, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *MockJobRepo) ListFailed(ctx context.Context, limit int) ([]models.Job, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *MockJobRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

type MockMedia struct {
	mock.Mock
}

func (m *MockMedia) Transfer(ctx context.Context, items []models.MediaItem, maxBytes int64) ([]string, []string, error) {
	args := m.Called(ctx, items, maxBytes)
	attachments, _ := args.Get(0).([]string)
	notes, _ := args.Get(1).([]string)
	return attachments, notes, args.Error(2)
}

type MockWall struct {
	mock.Mock
}

func (m *MockWall) PostToWall(ctx context.Context, groupID int64, message string, attachments []string) (*vk.WallPostResponse, error) {
	args := m.Called(ctx, groupID, message, attachments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vk.WallPostResponse), args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, task queue.Task) error {
	args := m.Called(ctx, delay, task)
	return args.Error(0)
}

type fakeSettings struct {
	values map[string]string
}

func (s *fakeSettings) Get(_ context.Context, key string) (string, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", database.ErrNotFound
}

func (s *fakeSettings) GetDefault(_ context.Context, key, fallback string) (string, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func (s *fakeSettings) Set(_ context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

// countingLockStore records every SetNX so tests can assert whether the lock
// was touched at all.
type countingLockStore struct {
	mu    sync.Mutex
	held  map[string]string
	setNX int
}

func newCountingLockStore() *countingLockStore {
	return &countingLockStore{held: map[string]string{}}
}

func (s *countingLockStore) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNX++
	if _, ok := s.held[key]; ok {
		return false, nil
	}
	s.held[key] = value
	return true, nil
}

func (s *countingLockStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[key], nil
}

func (s *countingLockStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
	return nil
}

func (s *countingLockStore) setNXCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setNX
}

type serviceSuite struct {
	posts     *MockPostRepo
	albums    *MockAlbumRepo
	publishes *MockPublishRepo
	jobs      *MockJobRepo
	media     *MockMedia
	wall      *MockWall
	scheduler *MockScheduler
	settings  *fakeSettings
	lockStore *countingLockStore
	service   *Service
}

func setupServiceSuite(t *testing.T) *serviceSuite {
	t.Helper()
	s := &serviceSuite{
		posts:     new(MockPostRepo),
		albums:    new(MockAlbumRepo),
		publishes: new(MockPublishRepo),
		jobs:      new(MockJobRepo),
		media:     new(MockMedia),
		wall:      new(MockWall),
		scheduler: new(MockScheduler),
		settings:  &fakeSettings{values: map[string]string{}},
		lockStore: newCountingLockStore(),
	}
	cfg := &config.Config{
		VKGroupID:          123,
		Mode:               ModeAuto,
		LimitStrategy:      string(packer.StrategySplitPosts),
		AlbumFinalizeDelay: 3 * time.Second,
		MaxFileSizeBytes:   50 * 1024 * 1024,
		AutopostingEnabled: true,
	}
	s.service = NewService(ServiceDeps{
		Config:    cfg,
		Posts:     s.posts,
		Albums:    s.albums,
		Publishes: s.publishes,
		Jobs:      s.jobs,
		Settings:  s.settings,
		Locker:    lock.New(s.lockStore),
		Media:     s.media,
		Wall:      s.wall,
		Scheduler: s.scheduler,
	})
	return s
}

func TestRepostSinglePublishes(t *testing.T) {
	s := setupServiceSuite(t)
	postID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()
	post := &models.Post{ID: postID, ChannelID: -1001234567890, MessageID: 42, Text: "caption"}
	items := []models.MediaItem{{PostID: postID, Kind: models.MediaKindPhoto, FileID: "ph1"}}

	s.jobs.On("Create", mock.Anything, models.JobKindRepostSingle, models.JobStatusRunning, &postID, "").Return(jobID, nil)
	s.posts.On("GetPost", mock.Anything, postID).Return(post, nil)
	s.publishes.On("GetByPostID", mock.Anything, postID).Return(nil, database.ErrNotFound)
	s.posts.On("ListMediaForPosts", mock.Anything, []primitive.ObjectID{postID}).Return(items, nil)
	s.media.On("Transfer", mock.Anything, items, int64(50*1024*1024)).Return([]string{"photo-123_10"}, []string(nil), nil)
	s.wall.On("PostToWall", mock.Anything, int64(123), "caption", []string{"photo-123_10"}).
		Return(&vk.WallPostResponse{PostID: 777}, nil)
	s.publishes.On("Create", mock.Anything, mock.MatchedBy(func(r *models.PublishRecord) bool {
		return r.PostID == postID && r.VKOwnerID == -123 && len(r.VKPostIDs) == 1 && r.VKPostIDs[0] == 777 &&
			r.AttachmentCount == 1 && r.Status == models.PublishStatusSuccess
	})).Return(nil)
	s.posts.On("SetPostStatus", mock.Anything, postID, models.PostStatusPublished).Return(nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "").Return(nil)

	err := s.service.RepostSingle(context.Background(), postID)
	require.NoError(t, err)
	s.wall.AssertExpectations(t)
	s.publishes.AssertExpectations(t)
	s.jobs.AssertExpectations(t)
}

func TestRepostSingleAlreadyPublished(t *testing.T) {
	s := setupServiceSuite(t)
	postID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()

	s.jobs.On("Create", mock.Anything, models.JobKindRepostSingle, models.JobStatusRunning, &postID, "").Return(jobID, nil)
	s.posts.On("GetPost", mock.Anything, postID).Return(&models.Post{ID: postID}, nil)
	s.publishes.On("GetByPostID", mock.Anything, postID).Return(&models.PublishRecord{PostID: postID}, nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "already posted").Return(nil)

	err := s.service.RepostSingle(context.Background(), postID)
	require.NoError(t, err)
	s.wall.AssertNotCalled(t, "PostToWall", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.jobs.AssertExpectations(t)
}

func TestRepostSingleSkipsAlbumMember(t *testing.T) {
	s := setupServiceSuite(t)
	postID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()
	post := &models.Post{ID: postID, MediaGroupID: "album-1"}

	s.jobs.On("Create", mock.Anything, models.JobKindRepostSingle, models.JobStatusRunning, &postID, "").Return(jobID, nil)
	s.posts.On("GetPost", mock.Anything, postID).Return(post, nil)
	s.publishes.On("GetByPostID", mock.Anything, postID).Return(nil, database.ErrNotFound)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "album item; waiting for finalize").Return(nil)

	err := s.service.RepostSingle(context.Background(), postID)
	require.NoError(t, err)
	s.wall.AssertNotCalled(t, "PostToWall", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.jobs.AssertExpectations(t)
}

func TestRepostSingleEmptyPost(t *testing.T) {
	s := setupServiceSuite(t)
	postID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()
	post := &models.Post{ID: postID, Text: "   "}

	s.jobs.On("Create", mock.Anything, models.JobKindRepostSingle, models.JobStatusRunning, &postID, "").Return(jobID, nil)
	s.posts.On("GetPost", mock.Anything, postID).Return(post, nil)
	s.publishes.On("GetByPostID", mock.Anything, postID).Return(nil, database.ErrNotFound)
	s.posts.On("ListMediaForPosts", mock.Anything, []primitive.ObjectID{postID}).Return([]models.MediaItem(nil), nil)
	s.media.On("Transfer", mock.Anything, []models.MediaItem(nil), mock.Anything).Return([]string(nil), []string(nil), nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "empty post").Return(nil)

	err := s.service.RepostSingle(context.Background(), postID)
	require.NoError(t, err)
	s.wall.AssertNotCalled(t, "PostToWall", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.jobs.AssertExpectations(t)
}

func TestRepostSinglePostNotFound(t *testing.T) {
	s := setupServiceSuite(t)
	postID := primitive.NewObjectID()
	jobID := primitive.NewObjectID()

	s.jobs.On("Create", mock.Anything, models.JobKindRepostSingle, models.JobStatusRunning, &postID, "").Return(jobID, nil)
	s.posts.On("GetPost", mock.Anything, postID).Return(nil, database.ErrNotFound)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusFailed, (*int)(nil), "post not found").Return(nil)

	err := s.service.RepostSingle(context.Background(), postID)
	require.NoError(t, err)
	s.jobs.AssertExpectations(t)
}

func TestFinalizeAlbumAlreadyFinalized(t *testing.T) {
	s := setupServiceSuite(t)
	jobID := primitive.NewObjectID()
	state := &models.AlbumState{MediaGroupID: "g1", Status: models.AlbumStatusFinalized}

	s.jobs.On("Create", mock.Anything, models.JobKindFinalizeAlbum, models.JobStatusRunning, (*primitive.ObjectID)(nil), "g1").Return(jobID, nil)
	s.albums.On("Get", mock.Anything, "g1").Return(state, nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "already finalized").Return(nil)

	err := s.service.FinalizeAlbum(context.Background(), "g1")
	require.NoError(t, err)
	assert.Zero(t, s.lockStore.setNXCalls(), "lock must not be touched for a finalized album")
	s.jobs.AssertExpectations(t)
}

func TestFinalizeAlbumReschedulesDuringDebounce(t *testing.T) {
	s := setupServiceSuite(t)
	jobID := primitive.NewObjectID()
	now := time.Now()
	s.service.now = func() time.Time { return now }
	state := &models.AlbumState{
		MediaGroupID: "g1",
		Status:       models.AlbumStatusPending,
		LastSeenAt:   now.Add(-time.Second),
	}

	s.jobs.On("Create", mock.Anything, models.JobKindFinalizeAlbum, models.JobStatusRunning, (*primitive.ObjectID)(nil), "g1").Return(jobID, nil)
	s.albums.On("Get", mock.Anything, "g1").Return(state, nil)
	s.scheduler.On("ScheduleAfter", mock.Anything, 2*time.Second, queue.Task{Kind: queue.TaskFinalizeAlbum, MediaGroupID: "g1"}).Return(nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "rescheduled").Return(nil)

	err := s.service.FinalizeAlbum(context.Background(), "g1")
	require.NoError(t, err)
	assert.Zero(t, s.lockStore.setNXCalls(), "debounce reschedule must not acquire the lock")
	s.scheduler.AssertExpectations(t)
	s.jobs.AssertExpectations(t)
}

func TestFinalizeAlbumPublishesAfterDebounce(t *testing.T) {
	s := setupServiceSuite(t)
	jobID := primitive.NewObjectID()
	now := time.Now()
	s.service.now = func() time.Time { return now }
	state := &models.AlbumState{
		MediaGroupID: "g1",
		Status:       models.AlbumStatusPending,
		LastSeenAt:   now.Add(-10 * time.Second),
	}

	firstID := primitive.NewObjectID()
	secondID := primitive.NewObjectID()
	members := []models.Post{
		{ID: firstID, ChannelID: -100555, MessageID: 10, MediaGroupID: "g1"},
		{ID: secondID, ChannelID: -100555, MessageID: 11, MediaGroupID: "g1", Text: "album caption"},
	}
	// Repo returns media ordered by post id; canonical order follows the
	// message ids instead.
	items := []models.MediaItem{
		{PostID: secondID, Kind: models.MediaKindPhoto, FileID: "ph2", OrderIndex: 0},
		{PostID: firstID, Kind: models.MediaKindPhoto, FileID: "ph1", OrderIndex: 0},
	}
	ordered := []models.MediaItem{items[1], items[0]}

	s.jobs.On("Create", mock.Anything, models.JobKindFinalizeAlbum, models.JobStatusRunning, (*primitive.ObjectID)(nil), "g1").Return(jobID, nil)
	s.albums.On("Get", mock.Anything, "g1").Return(state, nil)
	s.posts.On("ListAlbumPosts", mock.Anything, "g1").Return(members, nil)
	s.publishes.On("GetByPostID", mock.Anything, firstID).Return(nil, database.ErrNotFound)
	s.publishes.On("GetByPostID", mock.Anything, secondID).Return(nil, database.ErrNotFound)
	s.posts.On("ListMediaForPosts", mock.Anything, []primitive.ObjectID{firstID, secondID}).Return(items, nil)
	s.media.On("Transfer", mock.Anything, ordered, mock.Anything).Return([]string{"photo-123_1", "photo-123_2"}, []string(nil), nil)
	s.wall.On("PostToWall", mock.Anything, int64(123), "album caption", []string{"photo-123_1", "photo-123_2"}).
		Return(&vk.WallPostResponse{PostID: 900}, nil)
	s.albums.On("MarkFinalized", mock.Anything, "g1").Return(nil)
	s.publishes.On("Create", mock.Anything, mock.MatchedBy(func(r *models.PublishRecord) bool {
		return r.MediaGroupID == "g1" && len(r.VKPostIDs) == 1 && r.VKPostIDs[0] == 900 &&
			r.AttachmentCount == 2 && r.Status == models.PublishStatusSuccess
	})).Return(nil).Twice()
	s.posts.On("SetPostStatus", mock.Anything, firstID, models.PostStatusPublished).Return(nil)
	s.posts.On("SetPostStatus", mock.Anything, secondID, models.PostStatusPublished).Return(nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "").Return(nil)

	err := s.service.FinalizeAlbum(context.Background(), "g1")
	require.NoError(t, err)
	s.wall.AssertExpectations(t)
	s.albums.AssertExpectations(t)
	s.publishes.AssertExpectations(t)
	s.jobs.AssertExpectations(t)
}

func TestFinalizeAlbumLockBusySkips(t *testing.T) {
	s := setupServiceSuite(t)
	jobID := primitive.NewObjectID()
	now := time.Now()
	s.service.now = func() time.Time { return now }
	state := &models.AlbumState{
		MediaGroupID: "g1",
		Status:       models.AlbumStatusPending,
		LastSeenAt:   now.Add(-10 * time.Second),
	}
	// Another worker already holds the album lock.
	held, err := s.lockStore.SetNX(context.Background(), "lock:album:g1", "other", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	s.jobs.On("Create", mock.Anything, models.JobKindFinalizeAlbum, models.JobStatusRunning, (*primitive.ObjectID)(nil), "g1").Return(jobID, nil)
	s.albums.On("Get", mock.Anything, "g1").Return(state, nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "lock busy, skipped").Return(nil)

	err = s.service.FinalizeAlbum(context.Background(), "g1")
	require.NoError(t, err)
	s.posts.AssertNotCalled(t, "ListAlbumPosts", mock.Anything, mock.Anything)
	s.jobs.AssertExpectations(t)
}

func TestFinalizeAlbumMemberAlreadyPublished(t *testing.T) {
	s := setupServiceSuite(t)
	jobID := primitive.NewObjectID()
	now := time.Now()
	s.service.now = func() time.Time { return now }
	state := &models.AlbumState{
		MediaGroupID: "g1",
		Status:       models.AlbumStatusPending,
		LastSeenAt:   now.Add(-10 * time.Second),
	}
	memberID := primitive.NewObjectID()
	members := []models.Post{{ID: memberID, MessageID: 10, MediaGroupID: "g1"}}

	s.jobs.On("Create", mock.Anything, models.JobKindFinalizeAlbum, models.JobStatusRunning, (*primitive.ObjectID)(nil), "g1").Return(jobID, nil)
	s.albums.On("Get", mock.Anything, "g1").Return(state, nil)
	s.posts.On("ListAlbumPosts", mock.Anything, "g1").Return(members, nil)
	s.publishes.On("GetByPostID", mock.Anything, memberID).Return(&models.PublishRecord{PostID: memberID}, nil)
	s.albums.On("MarkFinalized", mock.Anything, "g1").Return(nil)
	s.jobs.On("Update", mock.Anything, jobID, models.JobStatusSuccess, (*int)(nil), "already posted").Return(nil)

	err := s.service.FinalizeAlbum(context.Background(), "g1")
	require.NoError(t, err)
	s.wall.AssertNotCalled(t, "PostToWall", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.albums.AssertExpectations(t)
	s.jobs.AssertExpectations(t)
}

func TestHandleTaskDropsUnknownKind(t *testing.T) {
	s := setupServiceSuite(t)
	err := s.service.HandleTask(context.Background(), queue.Task{Kind: "mystery"})
	require.NoError(t, err)
	s.jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
