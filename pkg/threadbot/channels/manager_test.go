package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	name       string
	connectErr error
	in         chan *IncomingMessage

	mu           sync.Mutex
	connected    bool
	disconnected bool
	sent         []string
}

func newStub(name string) *stubChannel {
	return &stubChannel{name: name, in: make(chan *IncomingMessage, 4)}
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *stubChannel) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnected = true
	return nil
}

func (s *stubChannel) Send(_ context.Context, to string, msg *OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+":"+msg.Content)
	return nil
}

func (s *stubChannel) Receive() <-chan *IncomingMessage { return s.in }

func (s *stubChannel) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubChannel) Health() HealthStatus { return HealthStatus{Connected: s.IsConnected()} }

func TestManager_RegisterDuplicate(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Register(newStub("telegram")))
	assert.Error(t, m.Register(newStub("telegram")))
}

func TestManager_MergesMessagesAndRoutesReplies(t *testing.T) {
	m := NewManager(nil)
	tg := newStub("telegram")
	con := newStub("console")
	require.NoError(t, m.Register(tg))
	require.NoError(t, m.Register(con))
	require.NoError(t, m.Start(context.Background()))

	tg.in <- &IncomingMessage{Channel: "telegram", Content: "a"}
	con.in <- &IncomingMessage{Channel: "console", Content: "b"}

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-m.Messages():
			got[msg.Channel] = msg.Content
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for merged messages")
		}
	}
	assert.Equal(t, map[string]string{"telegram": "a", "console": "b"}, got)

	require.NoError(t, m.Send(context.Background(), "telegram", "42", &OutgoingMessage{Content: "hi"}))
	assert.Equal(t, []string{"42:hi"}, tg.sent)

	err := m.Send(context.Background(), "discord", "1", &OutgoingMessage{Content: "x"})
	assert.Error(t, err)

	health := m.HealthAll()
	assert.True(t, health["telegram"].Connected)

	m.Stop()
	assert.True(t, tg.disconnected)
	_, open := <-m.Messages()
	assert.False(t, open)
}

func TestManager_SkipsFailedChannel(t *testing.T) {
	m := NewManager(nil)
	bad := newStub("telegram")
	bad.connectErr = errors.New("unauthorized")
	good := newStub("console")
	require.NoError(t, m.Register(bad))
	require.NoError(t, m.Register(good))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	err := m.Send(context.Background(), "telegram", "42", &OutgoingMessage{Content: "hi"})
	assert.ErrorIs(t, err, ErrChannelDisconnected)
}

func TestManager_AllChannelsFail(t *testing.T) {
	m := NewManager(nil)
	bad := newStub("telegram")
	bad.connectErr = errors.New("unauthorized")
	require.NoError(t, m.Register(bad))

	assert.Error(t, m.Start(context.Background()))
	m.Stop()
}

func TestManager_MediaChannel(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Register(newStub("plain")))

	_, ok := m.MediaChannel("plain")
	assert.False(t, ok)
	_, ok = m.MediaChannel("missing")
	assert.False(t, ok)
}
