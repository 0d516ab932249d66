// Package voice owns the one-active-connection-per-guild voice
// transport link and raises connect/disconnect notifications for the
// playback engine.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrSendTimeout reports a single opus packet that could not be handed
// to the transport in time. Callers decide when a run of these means the
// transport is gone.
var ErrSendTimeout = errors.New("opus send timeout")

// Conn is the active voice transport link for one guild. One writer at
// a time: the guild's advancement loop.
type Conn struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string
}

func (c *Conn) ChannelID() string { return c.channelID }

func (c *Conn) Speaking(on bool) error { return c.vc.Speaking(on) }

func (c *Conn) Ready() bool {
	if c.vc == nil {
		return false
	}
	return c.vc.Status == discordgo.VoiceConnectionStatusReady
}

// WriteOpus hands one packet to the transport, honoring cancellation.
func (c *Conn) WriteOpus(ctx context.Context, pkt []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.vc.OpusSend <- pkt:
		return nil
	case <-time.After(200 * time.Millisecond):
		return ErrSendTimeout
	}
}

type Manager struct {
	mu    sync.Mutex
	conns map[string]*Conn

	onConnected    []func(guildID, channelID string)
	onDisconnected []func(guildID, channelID string)
}

func NewManager() *Manager {
	return &Manager{conns: make(map[string]*Conn)}
}

// OnConnected registers a callback fired after a successful Join.
func (m *Manager) OnConnected(fn func(guildID, channelID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnDisconnected registers a callback fired exactly once per passive
// transport loss (network drop, kick, channel deletion). Voluntary
// disconnects never fire it.
func (m *Manager) OnDisconnected(fn func(guildID, channelID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = append(m.onDisconnected, fn)
}

// Join establishes the guild's voice connection. An existing connection
// is torn down first, best-effort: teardown failures are logged, not
// propagated. Connect failures propagate to the caller and are not
// retried automatically.
func (m *Manager) Join(ctx context.Context, s *discordgo.Session, guildID, channelID string) (*Conn, error) {
	m.mu.Lock()
	old := m.conns[guildID]
	if old != nil && old.channelID == channelID {
		m.mu.Unlock()
		return old, nil
	}
	delete(m.conns, guildID)
	m.mu.Unlock()

	if old != nil {
		teardown(old.vc, guildID)
	}

	vc, err := s.ChannelVoiceJoin(ctx, guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	ensureChannels(vc)

	conn := &Conn{vc: vc, guildID: guildID, channelID: channelID}

	m.mu.Lock()
	m.conns[guildID] = conn
	fns := append([]func(string, string){}, m.onConnected...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(guildID, channelID)
	}
	return conn, nil
}

// Disconnect tears down the guild's connection. Idempotent; no-ops when
// absent. The entry is removed before the transport teardown so the
// resulting gateway voice-state update is not mistaken for a passive
// disconnect.
func (m *Manager) Disconnect(guildID string) {
	m.mu.Lock()
	conn := m.conns[guildID]
	delete(m.conns, guildID)
	m.mu.Unlock()

	if conn != nil {
		teardown(conn.vc, guildID)
	}
}

// Sink returns the guild's active connection, if any.
func (m *Manager) Sink(guildID string) (*Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[guildID]
	return conn, ok
}

// HandleVoiceStateUpdate watches for the bot being dropped from a voice
// channel without a voluntary Disconnect: entry still present means the
// loss was passive, so notify once and forget the connection.
func (m *Manager) HandleVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || vs.UserID != s.State.User.ID || vs.ChannelID != "" {
		return
	}
	m.handleBotLeftChannel(vs.GuildID)
}

func (m *Manager) handleBotLeftChannel(guildID string) {
	m.mu.Lock()
	conn, ok := m.conns[guildID]
	if ok {
		delete(m.conns, guildID)
	}
	fns := append([]func(string, string){}, m.onDisconnected...)
	m.mu.Unlock()

	if !ok {
		// Voluntary disconnect already handled; nothing to signal.
		return
	}
	slog.Warn("voice transport lost", "guildID", guildID, "channelID", conn.channelID)
	for _, fn := range fns {
		fn(guildID, conn.channelID)
	}
}

func ensureChannels(vc *discordgo.VoiceConnection) {
	// Kill() panics on nil channels; make sure they exist.
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}
}

func teardown(vc *discordgo.VoiceConnection, guildID string) {
	if vc == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice disconnect panic recovered", "panic", r, "guildID", guildID)
		}
	}()

	ensureChannels(vc)
	_ = vc.Speaking(false)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := vc.Disconnect(ctx); err != nil {
		slog.Warn("voice disconnect failed", "guildID", guildID, "err", err)
	}
}
