package config

import "time"

type Config struct {
	DiscordToken        string
	SpotifyClientID     string
	SpotifyClientSecret string
	DataDir             string
	FFmpegPath          string
	BotStatus           string // online/dnd/idle
	BotActivity         string

	RegisterCommandsOnBot bool

	// Bounded waits for the per-guild playback loop. These are
	// configuration rather than constants so a hung provider can't wedge
	// a guild's loop forever.
	ResolveTimeout     time.Duration
	StreamStartTimeout time.Duration
	LoopStopWait       time.Duration
	NowPlayingInterval time.Duration
}
