package constants

import (
	"time"
)

// Session
const (
	// DefaultPort - standard FTP control port
	DefaultPort = 21

	// ProbeInterval - interval between liveness probes while connected (30 seconds)
	ProbeInterval = 30 * time.Second

	// DefaultTimeout - dial and per-command timeout handed to the FTP library (30 seconds)
	DefaultTimeout = 30 * time.Second

	// DisconnectTimeout - upper bound for a graceful QUIT before the socket is dropped
	DisconnectTimeout = 5 * time.Second

	// RootPath - remote root directory; never recorded as a recent directory
	RootPath = "/"
)

// Browsing history
const (
	// MaxRecentDirectories - size of the recent-directories menu
	MaxRecentDirectories = 5
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (256)
	// Progress events are coalesced per slot, so a small buffer is enough
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (2048)
	EventBusMaxBuffer = 2048
)

// Logging
const (
	// LogFileName - rotating log file written under the log directory with --log-file
	LogFileName = "ftp-handler.log"

	// LogFileMaxSizeMB - size at which the log file is rotated
	LogFileMaxSizeMB = 10

	// LogFileMaxBackups - rotated log files kept
	LogFileMaxBackups = 5

	// LogFileMaxAgeDays - days a rotated log file is kept
	LogFileMaxAgeDays = 30
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar redraws (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)

// Transfers
const (
	// ProgressStepPercent - minimum percent delta before a new progress update is emitted
	ProgressStepPercent = 1

	// DirPermissions - permissions for directories created for downloads
	DirPermissions = 0755

	// DiskSpaceSafetyMargin - free space required before a download, as a multiple of its size
	DiskSpaceSafetyMargin = 1.05
)
