package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/channelgw/internal/config"
	"github.com/mattjoyce/channelgw/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.String()
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type published struct {
	typ  string
	data map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, _ := data.(map[string]any)
	p.events = append(p.events, published{typ: eventType, data: m})
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

func TestCalculateJitteredInterval(t *testing.T) {
	tests := []struct {
		name         string
		baseInterval time.Duration
		jitter       time.Duration
	}{
		{name: "No Jitter", baseInterval: 1 * time.Minute, jitter: 0},
		{name: "Positive Jitter", baseInterval: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "Large Jitter", baseInterval: 1 * time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 100 {
				jittered := calculateJitteredInterval(tt.baseInterval, tt.jitter)
				if tt.jitter == 0 {
					assert.Equal(t, tt.baseInterval, jittered)
				} else {
					assert.GreaterOrEqual(t, jittered, tt.baseInterval)
					assert.Less(t, jittered, tt.baseInterval+tt.jitter)
				}
			}
		})
	}
}

func TestNewRejectsBadInterval(t *testing.T) {
	logger, _ := NewTestSlogger()
	_, err := New(config.MaintenanceConfig{Every: "fortnightly"}, nil, nil, nil, logger)
	assert.Error(t, err)

	s, err := New(config.MaintenanceConfig{}, nil, nil, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, s.interval)
}

func TestStartRecoversOrphanedSessions(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	pub := &recordingPublisher{}
	logger, buf := NewTestSlogger()

	sessions.EXPECT().CloseOrphans(gomock.Any(), OrphanReason).Return(3, nil)

	s, err := New(config.MaintenanceConfig{Every: "hourly"}, sessions, nil, pub, logger)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventRecovered, events[0].typ)
	assert.Equal(t, 3, events[0].data["sessions"])
	assert.Contains(t, buf.String(), "closed orphaned sessions from previous run")
}

func TestStartFailsWhenRecoveryFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	logger, _ := NewTestSlogger()

	sessions.EXPECT().CloseOrphans(gomock.Any(), gomock.Any()).Return(0, errors.New("database is locked"))

	s, err := New(config.MaintenanceConfig{}, sessions, nil, nil, logger)
	require.NoError(t, err)
	err = s.Start(context.Background())
	assert.ErrorContains(t, err, "crash recovery")
}

func TestTickPrunesAndTrims(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	rooms := mocks.NewMockRoomStore(ctrl)
	pub := &recordingPublisher{}
	logger, _ := NewTestSlogger()

	cfg := config.MaintenanceConfig{SessionRetention: 48 * time.Hour, RoomHistoryMax: 100}
	sessions.EXPECT().PruneClosed(gomock.Any(), 48*time.Hour).Return(7, nil)
	rooms.EXPECT().Trim(gomock.Any(), 100).Return(12, nil)

	s, err := New(cfg, sessions, rooms, pub, logger)
	require.NoError(t, err)
	s.tick(context.Background())

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventMaintenance, events[0].typ)
	assert.Equal(t, 7, events[0].data["sessions_pruned"])
	assert.Equal(t, 12, events[0].data["messages_trimmed"])
}

func TestTickSkipsDisabledWorkAndSurvivesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	rooms := mocks.NewMockRoomStore(ctrl)
	pub := &recordingPublisher{}
	logger, buf := NewTestSlogger()

	// Retention zero: PruneClosed must not be called.
	rooms.EXPECT().Trim(gomock.Any(), 5).Return(0, errors.New("disk full"))

	s, err := New(config.MaintenanceConfig{RoomHistoryMax: 5}, sessions, rooms, pub, logger)
	require.NoError(t, err)
	s.tick(context.Background())

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].data, "sessions_pruned")
	assert.NotContains(t, events[0].data, "messages_trimmed")
	assert.Contains(t, buf.String(), "failed to trim room history")
}

func TestLoopRunsUntilStopped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sessions := mocks.NewMockSessionStore(ctrl)
	logger, _ := NewTestSlogger()

	ran := make(chan struct{}, 16)
	sessions.EXPECT().CloseOrphans(gomock.Any(), gomock.Any()).Return(0, nil)
	sessions.EXPECT().PruneClosed(gomock.Any(), time.Minute).DoAndReturn(
		func(context.Context, time.Duration) (int, error) {
			select {
			case ran <- struct{}{}:
			default:
			}
			return 0, nil
		}).MinTimes(2)

	s, err := New(config.MaintenanceConfig{Every: "5ms", SessionRetention: time.Minute}, sessions, nil, nil, logger)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	for range 2 {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("maintenance loop did not run")
		}
	}
	s.Stop()
	s.Stop()
}
