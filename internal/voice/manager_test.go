package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seedConn(m *Manager, guildID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[guildID] = &Conn{guildID: guildID, channelID: channelID}
}

func TestPassiveDisconnectNotifiesOnce(t *testing.T) {
	m := NewManager()
	var got []string
	m.OnDisconnected(func(guildID, channelID string) {
		got = append(got, guildID+"/"+channelID)
	})
	seedConn(m, "g1", "c1")

	m.handleBotLeftChannel("g1")
	m.handleBotLeftChannel("g1") // duplicate gateway event

	assert.Equal(t, []string{"g1/c1"}, got)

	_, ok := m.Sink("g1")
	assert.False(t, ok)
}

func TestVoluntaryDisconnectDoesNotNotify(t *testing.T) {
	m := NewManager()
	notified := 0
	m.OnDisconnected(func(guildID, channelID string) { notified++ })
	seedConn(m, "g1", "c1")

	// Voluntary teardown removes the entry before the gateway echoes the
	// state change back, so the echo must not look like transport loss.
	m.Disconnect("g1")
	m.handleBotLeftChannel("g1")

	assert.Equal(t, 0, notified)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m := NewManager()
	seedConn(m, "g1", "c1")

	m.Disconnect("g1")
	m.Disconnect("g1")
	m.Disconnect("unknown-guild")

	_, ok := m.Sink("g1")
	assert.False(t, ok)
}

func TestSinkPerGuild(t *testing.T) {
	m := NewManager()
	seedConn(m, "g1", "c1")
	seedConn(m, "g2", "c2")

	c, ok := m.Sink("g2")
	assert.True(t, ok)
	assert.Equal(t, "c2", c.ChannelID())

	_, ok = m.Sink("g3")
	assert.False(t, ok)
}
