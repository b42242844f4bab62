// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort           = "8080"
	DefaultDBPath         = "beathub.db"
	DefaultEngineURL      = "http://127.0.0.1:8000"
	DefaultQuality        = "LOSSLESS"
	DefaultWorkerCount    = 4
	DefaultMaxAttempts    = 3
	DefaultSubdirTemplate = "{{.AlbumArtist}}/{{.Album}}/{{.Disc}}-{{.Track}} {{.Title}}"
	DefaultHeartbeat      = 15 * time.Second
	DefaultHTTPTimeout    = 5 * time.Minute
	ImageHTTPTimeout      = 30 * time.Second
	EngineReadyTimeout    = 30 * time.Second
	BrokerPollInterval    = 1 * time.Second
	HTTPRetryCount        = 3
	HTTPRetryBase         = 1 * time.Second
	MinRequestInterval    = 100 * time.Millisecond
	DownloadBatchSize     = 25
	PendingQueueCapacity  = 1024
	MaxHistoryItems       = 50
	ShutdownTimeout       = 5 * time.Second
)

// Quality levels
const (
	QualityLossless      = "LOSSLESS"
	QualityHiResLossless = "HI_RES_LOSSLESS"
	QualityHigh          = "HIGH"
	QualityLow           = "LOW"
)

// MIME Types
const (
	MimeTypeFLAC = "audio/flac"
	MimeTypeMP3  = "audio/mpeg"
	MimeTypeMP4  = "audio/mp4"
	MimeTypeJPEG = "image/jpeg"
)

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
	ExtJPG  = ".jpg"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
