package player

import "sync"

// Manager hands out the one Player per guild, creating lazily on first
// use. All guilds share the same dependency wiring.
type Manager struct {
	mu      sync.Mutex
	players map[string]*Player
	deps    Deps
	events  Events
}

func NewManager(deps Deps, events Events) *Manager {
	return &Manager{
		players: make(map[string]*Player),
		deps:    deps,
		events:  events,
	}
}

// Get returns the guild's player, creating it if needed.
func (m *Manager) Get(guildID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[guildID]
	if !ok {
		p = newPlayer(guildID, m.deps, m.events)
		m.players[guildID] = p
	}
	return p
}

// Peek returns the guild's player only if one already exists.
func (m *Manager) Peek(guildID string) (*Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Snapshots returns one playback snapshot per guild with a track in
// flight. Used by the now-playing projector.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	players := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	m.mu.Unlock()

	var snaps []Snapshot
	for _, p := range players {
		item := p.GetCurrent()
		if item == nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			GuildID: p.guildID,
			Item:    item,
			Elapsed: p.Elapsed(),
			Status:  p.Status(),
		})
	}
	return snaps
}
