package settings

import "time"

// Defaults applied when the config file leaves a value unset.
const (
	// SiteName is the product name used in tokens and logs.
	SiteName = "ExamPrep"
	// DefaultPort is the HTTP listen port.
	DefaultPort = 8318
	// DefaultRecentPapersWindow is the free-tier window size when a tier leaves papers_limit at zero.
	DefaultRecentPapersWindow = 2
	// DefaultCatalogMaxAge bounds how long the in-memory tier snapshot is trusted.
	DefaultCatalogMaxAge = time.Minute
	// DefaultMaintenanceRunAt is the daily sweep time (HH:MM).
	DefaultMaintenanceRunAt = "00:05"
	// DefaultMaintenanceTimezone is the zone the sweep time is read in.
	DefaultMaintenanceTimezone = "UTC"
	// DefaultMaintenanceLockTTL bounds how long one instance may hold the sweep lock.
	DefaultMaintenanceLockTTL = 30 * time.Minute
	// DefaultRateLimit is the per-second request limit for user routes (0 means unlimited).
	DefaultRateLimit = 20
	// DefaultWebhookRateLimit is the per-second limit per webhook provider.
	DefaultWebhookRateLimit = 50
	// DefaultRedisPrefix prefixes every Redis key the service writes.
	DefaultRedisPrefix = "examprep"
	// DefaultJWTExpiry is the lifetime of issued tokens.
	DefaultJWTExpiry = 24 * time.Hour
)
