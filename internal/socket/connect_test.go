package socket_test

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/channelgw/internal/protocol"
	"github.com/mattjoyce/channelgw/internal/pubsub"
	"github.com/mattjoyce/channelgw/internal/socket"
	"github.com/mattjoyce/channelgw/internal/socket/mocks"
)

func testEndpoint() socket.EndpointConfig {
	return socket.EndpointConfig{Name: "test", PubSub: pubsub.NewMemory(), Serializer: protocol.JSONSerializer{}}
}

func TestConnectAccepts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := mocks.NewMockHandler(ctrl)
	params := map[string]any{"user": "ana"}
	ep := testEndpoint()

	h.EXPECT().Connect(params, gomock.Any()).DoAndReturn(func(p map[string]any, base *socket.Socket) (*socket.Socket, error) {
		assert.Equal(t, socket.TransportWebSocket, base.Transport)
		assert.Equal(t, "test", base.Endpoint)
		assert.Equal(t, ep.PubSub, base.PubSub)
		assert.NotNil(t, base.Serializer)
		assert.Same(t, h, base.Handler)
		return base.Assign("user", p["user"]), nil
	})
	h.EXPECT().ID(gomock.Any()).Return("users_socket:ana", true)

	s, err := socket.Connect(ep, socket.TransportWebSocket, h, params)
	require.NoError(t, err)
	assert.Equal(t, "users_socket:ana", s.ID)
	user, ok := s.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "ana", user)
	assert.False(t, s.Joined())
}

func TestConnectAnonymousID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := mocks.NewMockHandler(ctrl)
	h.EXPECT().Connect(gomock.Any(), gomock.Any()).DoAndReturn(func(_ map[string]any, base *socket.Socket) (*socket.Socket, error) {
		return base, nil
	})
	h.EXPECT().ID(gomock.Any()).Return("", false)

	s, err := socket.Connect(testEndpoint(), socket.TransportLongPoll, h, nil)
	require.NoError(t, err)
	assert.Empty(t, s.ID)
	assert.Equal(t, socket.TransportLongPoll, s.Transport)
}

func TestConnectRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := mocks.NewMockHandler(ctrl)
	h.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil, errors.New("bad token"))
	// ID must not be consulted after a rejection.

	s, err := socket.Connect(testEndpoint(), socket.TransportWebSocket, h, nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, socket.ErrConnectRejected)
	assert.Contains(t, err.Error(), "bad token")
}

func TestConnectContractViolations(t *testing.T) {
	t.Run("connect returns neither socket nor error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		h := mocks.NewMockHandler(ctrl)
		h.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil, nil)

		assertViolation(t, "Connect", func() {
			_, _ = socket.Connect(testEndpoint(), socket.TransportWebSocket, h, nil)
		})
	})

	t.Run("id returns empty string", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		h := mocks.NewMockHandler(ctrl)
		h.EXPECT().Connect(gomock.Any(), gomock.Any()).DoAndReturn(func(_ map[string]any, base *socket.Socket) (*socket.Socket, error) {
			return base, nil
		})
		h.EXPECT().ID(gomock.Any()).Return("", true)

		assertViolation(t, "ID", func() {
			_, _ = socket.Connect(testEndpoint(), socket.TransportWebSocket, h, nil)
		})
	})
}

func assertViolation(t *testing.T, callback string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		cv, ok := r.(*socket.ContractViolation)
		require.True(t, ok, "expected *ContractViolation, got %T", r)
		assert.Equal(t, callback, cv.Callback)
	}()
	fn()
}
