package config

import (
	"os"
	"time"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getdur(key, def string) time.Duration {
	d, err := time.ParseDuration(getenv(key, def))
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		SpotifyClientID:       os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret:   os.Getenv("SPOTIFY_CLIENT_SECRET"),
		DataDir:               getenv("DATA_DIR", "./data"),
		FFmpegPath:            getenv("FFMPEG_PATH", "ffmpeg"),
		BotStatus:             getenv("BOT_STATUS", "online"),
		BotActivity:           getenv("BOT_ACTIVITY", "music"),
		RegisterCommandsOnBot: getenv("REGISTER_COMMANDS_ON_BOT", "false") == "true",
		ResolveTimeout:        getdur("RESOLVE_TIMEOUT", "30s"),
		StreamStartTimeout:    getdur("STREAM_START_TIMEOUT", "15s"),
		LoopStopWait:          getdur("LOOP_STOP_WAIT", "5s"),
		NowPlayingInterval:    getdur("NOW_PLAYING_INTERVAL", "5s"),
	}

	if cfg.DiscordToken == "" {
		return nil, ErrConfig("DISCORD_TOKEN required")
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return cfg, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
