package app

import (
	"os"
	"strconv"
	"strings"

	"torrentsession/internal/domain"
)

type Config struct {
	HTTPAddr           string
	AttachmentsAddr    string
	LogLevel           string
	LogFormat          string
	DownloadPath       string
	ScrapeURL          string
	DisableDHT         bool
	DisablePEX         bool
	SpeedMbps          float64 // <= 0 = unlimited
	TorrentPort        int
	DHTPort            int
	MaxConns           int
	Streamed           bool
	Persist            bool
	ProbeTimeoutSec    int64
	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", "127.0.0.1:8765"),
		AttachmentsAddr:    getEnv("ATTACHMENTS_ADDR", ""),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DownloadPath:       getEnv("DOWNLOAD_PATH", ""),
		ScrapeURL:          getEnv("SCRAPE_URL", "http://nyaa.tracker.wf:7777/announce"),
		DisableDHT:         getEnvBool("TORRENT_DISABLE_DHT", false),
		DisablePEX:         getEnvBool("TORRENT_DISABLE_PEX", false),
		SpeedMbps:          getEnvFloat("TORRENT_SPEED_MBPS", 5),
		TorrentPort:        int(getEnvInt64("TORRENT_PORT", 0)),
		DHTPort:            int(getEnvInt64("DHT_PORT", 0)),
		MaxConns:           int(getEnvInt64("TORRENT_MAX_CONNS", 50)),
		Streamed:           getEnvBool("TORRENT_STREAMED", false),
		Persist:            getEnvBool("TORRENT_PERSIST", false),
		ProbeTimeoutSec:    getEnvInt64("PROBE_TIMEOUT_SECONDS", 60),
		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// TorrentSettings is the initial session configuration.
func (c Config) TorrentSettings() domain.TorrentSettings {
	return domain.TorrentSettings{
		TorrentDHT:              c.DisableDHT,
		TorrentPeX:              c.DisablePEX,
		TorrentSpeed:            c.SpeedMbps,
		TorrentPort:             c.TorrentPort,
		DHTPort:                 c.DHTPort,
		MaxConns:                c.MaxConns,
		TorrentStreamedDownload: c.Streamed,
		TorrentPersist:          c.Persist,
		Path:                    c.DownloadPath,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
