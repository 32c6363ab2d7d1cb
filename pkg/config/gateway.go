package config

// Gateway holds the full runtime configuration of the postmaster service.
// Every knob is env-driven; the GATEWAY_* names are an operational contract.
type Gateway struct {
	DBPath        string
	AuthSecret    string
	HomeID        string
	DirectoryFile string

	SessionTTLSeconds int64

	MaxMembersPerConv int
	KeypackagePoolMax int

	Retention Retention
	Limits    Limits
	Presence  Presence
	Transport Transport
}

// Retention controls history pruning of conversation logs.
type Retention struct {
	MaxEventsPerConv  int  // 0 disables the count cap
	MaxAgeSeconds     int  // 0 disables the age cap
	SweepIntervalS    int  // clamped to >= 1
	HardLimits        bool // true: pruning may overtake slow cursors
	CursorStaleAfterS int  // cursors older than this do not hold back safe-mode pruning
}

// Enabled reports whether any pruning cap is configured.
func (r Retention) Enabled() bool {
	return r.MaxEventsPerConv > 0 || r.MaxAgeSeconds > 0
}

// Limits holds rate-limit and size-cap settings.
type Limits struct {
	ConvSendsPerMin       int
	SocialPublishesPerMin int
	DMCreatesPerMin       int
	RoomMutationsPerMin   int
	WatchMutationsPerMin  int
	LeaseRenewsPerMin     int
	MaxEnvB64Len          int
	MaxSocialEventBytes   int
}

// Presence holds presence-lease settings.
type Presence struct {
	MinTTLSeconds        int
	MaxTTLSeconds        int
	SweepIntervalS       int
	MaxWatchlistSize     int
	MaxWatchersPerTarget int
}

// Transport holds duplex-stream settings.
type Transport struct {
	PingIntervalS   int
	PingMissLimit   int
	OutboundQueue   int
	RequestTimeoutS int
}

// LoadGateway assembles the gateway configuration from the environment.
// GATEWAY_AUTH_SECRET is the only hard requirement.
func LoadGateway() Gateway {
	cfg := Gateway{
		DBPath:        GetEnv("GATEWAY_DB_PATH", "postmaster.db"),
		AuthSecret:    RequireEnv("GATEWAY_AUTH_SECRET"),
		HomeID:        GetEnv("GATEWAY_HOME_ID", "local"),
		DirectoryFile: GetEnv("GATEWAY_DIRECTORY_FILE", ""),

		SessionTTLSeconds: GetEnvInt64("GATEWAY_SESSION_TTL_S", 30*24*3600),

		MaxMembersPerConv: GetEnvInt("GATEWAY_MAX_MEMBERS_PER_CONV", 1024),
		KeypackagePoolMax: GetEnvInt("GATEWAY_KEYPACKAGE_POOL_MAX", 1000),

		Retention: Retention{
			MaxEventsPerConv:  GetEnvInt("GATEWAY_RETENTION_MAX_EVENTS_PER_CONV", 0),
			MaxAgeSeconds:     GetEnvInt("GATEWAY_RETENTION_MAX_AGE_S", 0),
			SweepIntervalS:    GetEnvInt("GATEWAY_RETENTION_SWEEP_INTERVAL_S", 60),
			HardLimits:        GetEnvBool("GATEWAY_RETENTION_HARD_LIMITS", false),
			CursorStaleAfterS: GetEnvInt("GATEWAY_CURSOR_STALE_AFTER_S", 86400),
		},
		Limits: Limits{
			ConvSendsPerMin:       GetEnvInt("GATEWAY_CONV_SENDS_PER_MIN", 120),
			SocialPublishesPerMin: GetEnvInt("GATEWAY_SOCIAL_PUBLISHES_PER_MIN", 30),
			DMCreatesPerMin:       GetEnvInt("GATEWAY_DMS_CREATES_PER_MIN", 20),
			RoomMutationsPerMin:   GetEnvInt("GATEWAY_ROOM_MUTATIONS_PER_MIN", 60),
			WatchMutationsPerMin:  GetEnvInt("GATEWAY_PRESENCE_WATCH_MUTATIONS_PER_MIN", 60),
			LeaseRenewsPerMin:     GetEnvInt("GATEWAY_PRESENCE_LEASES_PER_MIN", 120),
			MaxEnvB64Len:          GetEnvInt("GATEWAY_MAX_ENV_B64_LEN", 65536),
			MaxSocialEventBytes:   GetEnvInt("GATEWAY_MAX_SOCIAL_EVENT_BYTES", 16384),
		},
		Presence: Presence{
			MinTTLSeconds:        GetEnvInt("GATEWAY_PRESENCE_MIN_TTL_S", 15),
			MaxTTLSeconds:        GetEnvInt("GATEWAY_PRESENCE_MAX_TTL_S", 3600),
			SweepIntervalS:       GetEnvInt("GATEWAY_PRESENCE_SWEEP_INTERVAL_S", 10),
			MaxWatchlistSize:     GetEnvInt("GATEWAY_PRESENCE_MAX_WATCHLIST", 1000),
			MaxWatchersPerTarget: GetEnvInt("GATEWAY_PRESENCE_MAX_WATCHERS_PER_TARGET", 5000),
		},
		Transport: Transport{
			PingIntervalS:   GetEnvInt("GATEWAY_PING_INTERVAL_S", 30),
			PingMissLimit:   GetEnvInt("GATEWAY_PING_MISS_LIMIT", 2),
			OutboundQueue:   GetEnvInt("GATEWAY_OUTBOUND_QUEUE", 1000),
			RequestTimeoutS: GetEnvInt("GATEWAY_REQUEST_TIMEOUT_S", 5),
		},
	}

	if cfg.Retention.SweepIntervalS < 1 {
		cfg.Retention.SweepIntervalS = 1
	}
	if cfg.Presence.SweepIntervalS < 1 {
		cfg.Presence.SweepIntervalS = 1
	}
	if cfg.Presence.MinTTLSeconds > cfg.Presence.MaxTTLSeconds {
		cfg.Presence.MinTTLSeconds = cfg.Presence.MaxTTLSeconds
	}
	return cfg
}
