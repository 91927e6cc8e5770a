package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/fieldsync"
	"github.com/ukydev/fleet-fieldsync/internal/notify"
)

type MockDrainer struct {
	mock.Mock
}

func (m *MockDrainer) SyncAll(ctx context.Context, userID string) (fieldsync.Result, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(fieldsync.Result), args.Error(1)
}

func (m *MockDrainer) SyncEveryone(ctx context.Context) (fieldsync.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(fieldsync.Result), args.Error(1)
}

type MockMirrorer struct {
	mock.Mock
}

func (m *MockMirrorer) MirrorPending(ctx context.Context, limit int64) (fieldsync.MirrorResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(fieldsync.MirrorResult), args.Error(1)
}

type MockCleaner struct {
	mock.Mock
}

func (m *MockCleaner) Cleanup(ctx context.Context, r *db.DateRange) (int, error) {
	args := m.Called(ctx, r)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev notify.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestScheduler_StartRegistersConfiguredJobs(t *testing.T) {
	s := NewScheduler(Config{
		DrainSchedule:   DefaultDrainSchedule,
		MirrorSchedule:  DefaultMirrorSchedule,
		CleanupSchedule: "",
	}, new(MockDrainer), new(MockMirrorer), new(MockCleaner), nil)

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, []string{"drain", "mirror"}, s.Scheduled())
}

func TestScheduler_SkipsJobsWithoutWorker(t *testing.T) {
	s := NewScheduler(Config{
		DrainSchedule:   DefaultDrainSchedule,
		MirrorSchedule:  DefaultMirrorSchedule,
		CleanupSchedule: DefaultCleanupSchedule,
	}, new(MockDrainer), nil, nil, nil)

	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, []string{"drain"}, s.Scheduled())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(Config{DrainSchedule: "every five minutes"}, new(MockDrainer), nil, nil, nil)
	assert.Error(t, s.Start())
}

func TestScheduler_RunDrain(t *testing.T) {
	t.Run("device user", func(t *testing.T) {
		d := new(MockDrainer)
		d.On("SyncAll", mock.Anything, "device-1").Return(fieldsync.Result{Synced: 3}, nil)
		NewScheduler(Config{DeviceUserID: "device-1"}, d, nil, nil, nil).RunDrain()
		d.AssertExpectations(t)
		d.AssertNotCalled(t, "SyncEveryone", mock.Anything)
	})

	t.Run("every queue owner", func(t *testing.T) {
		d := new(MockDrainer)
		d.On("SyncEveryone", mock.Anything).Return(fieldsync.Result{}, errors.New("queue locked"))
		NewScheduler(Config{}, d, nil, nil, nil).RunDrain()
		d.AssertExpectations(t)
	})
}

func TestScheduler_RunMirror(t *testing.T) {
	m := new(MockMirrorer)
	m.On("MirrorPending", mock.Anything, int64(25)).Return(fieldsync.MirrorResult{Mirrored: 1}, nil)
	NewScheduler(Config{MirrorBatch: 25}, nil, m, nil, nil).RunMirror()
	m.AssertExpectations(t)
}

func TestScheduler_RunCleanupPublishesCount(t *testing.T) {
	c := new(MockCleaner)
	c.On("Cleanup", mock.Anything, (*db.DateRange)(nil)).Return(4, nil)
	p := new(MockPublisher)
	p.On("Publish", mock.Anything, mock.MatchedBy(func(ev notify.Event) bool {
		return ev.Kind == notify.KindCleanup && ev.Counts["deleted"] == 4
	})).Return(nil)

	NewScheduler(Config{}, nil, nil, c, p).RunCleanup()
	c.AssertExpectations(t)
	p.AssertExpectations(t)
}

func TestScheduler_RunCleanupFailureSkipsPublish(t *testing.T) {
	c := new(MockCleaner)
	c.On("Cleanup", mock.Anything, (*db.DateRange)(nil)).Return(0, errors.New("scan failed"))
	p := new(MockPublisher)

	NewScheduler(Config{}, nil, nil, c, p).RunCleanup()
	p.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
