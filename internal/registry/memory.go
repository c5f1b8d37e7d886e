package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jun/meetwatch/internal/model"
)

// Memory is the in-process Registry used in dev mode and tests. Semantics
// mirror Dynamo exactly, including conditional cursor advancement.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]model.WatchChannel
}

// NewMemory returns an empty in-memory Registry.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]model.WatchChannel)}
}

func key(email string) string { return strings.ToLower(email) }

func (m *Memory) Get(_ context.Context, email string) (*model.WatchChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ch, ok := m.channels[key(email)]; ok {
		return &ch, nil
	}
	return nil, nil
}

func (m *Memory) FindByChannelID(_ context.Context, channelID string) (*model.WatchChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if ch.ChannelID == channelID {
			ch := ch
			return &ch, nil
		}
	}
	return nil, nil
}

func (m *Memory) Put(_ context.Context, ch model.WatchChannel) (*model.WatchChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *model.WatchChannel
	if old, ok := m.channels[key(ch.UserEmail)]; ok && old.ChannelID != ch.ChannelID {
		prev = &old
	}
	m.channels[key(ch.UserEmail)] = ch
	return prev, nil
}

func (m *Memory) Delete(_ context.Context, email, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[key(email)]; ok && ch.ChannelID == channelID {
		delete(m.channels, key(email))
	}
	return nil
}

func (m *Memory) AdvanceCursor(_ context.Context, email, channelID, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[key(email)]; ok && ch.ChannelID == channelID {
		ch.Cursor = cursor
		m.channels[key(email)] = ch
	}
	return nil
}

func (m *Memory) ExpiringBefore(_ context.Context, horizon time.Time) ([]model.WatchChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.WatchChannel
	for _, ch := range m.channels {
		if ch.ExpiresAt < horizon.Unix() {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt < out[j].ExpiresAt })
	return out, nil
}
