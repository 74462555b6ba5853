package config

const (
	defaultConfigPath            = "~/.config/worldbackup/config.toml"
	defaultStateDir              = "~/.local/share/worldbackup"
	defaultScheduleInterval      = 3600
	defaultMinKeep               = 3
	defaultMaxCount              = 24
	defaultMaxAgeDays            = 14
	defaultFreeSpaceFloor        = "0"
	defaultSafetyMargin          = "1 GiB"
	defaultSnapshotFormat        = FormatTarGz
	defaultCompressionLevel      = 6
	defaultServerDriver          = DriverRCON
	defaultRCONAddress           = "127.0.0.1:25575"
	defaultQuiesceTimeout        = 30
	defaultResumeTimeout         = 10
	defaultResumeAttempts        = 3
	defaultBreakerThreshold      = 3
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	rconPasswordEnv              = "WORLDBACKUP_RCON_PASSWORD"
	ntfyTopicEnv                 = "WORLDBACKUP_NTFY_TOPIC"
	defaultSessionLockExclusion  = "session.lock"
	defaultQuiesceCommandSaveOff = "save-off"
	defaultQuiesceCommandFlush   = "save-all flush"
	defaultResumeCommandSaveOn   = "save-on"
)

// Snapshot formats.
const (
	FormatTarGz     = "tar.gz"
	FormatDirectory = "directory"
)

// Server control drivers.
const (
	DriverRCON = "rcon"
	DriverExec = "exec"
	DriverNone = "none"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Schedule: Schedule{
			Interval: defaultScheduleInterval,
		},
		Retention: Retention{
			MinKeep:        defaultMinKeep,
			MaxCount:       defaultMaxCount,
			MaxAgeDays:     defaultMaxAgeDays,
			FreeSpaceFloor: defaultFreeSpaceFloor,
		},
		Admission: Admission{
			SafetyMargin: defaultSafetyMargin,
		},
		Snapshot: Snapshot{
			Format:           defaultSnapshotFormat,
			CompressionLevel: defaultCompressionLevel,
			Exclude:          []string{defaultSessionLockExclusion},
		},
		Server: Server{
			Driver:           defaultServerDriver,
			RCONAddress:      defaultRCONAddress,
			QuiesceCommands:  []string{defaultQuiesceCommandSaveOff, defaultQuiesceCommandFlush},
			ResumeCommands:   []string{defaultResumeCommandSaveOn},
			QuiesceTimeout:   defaultQuiesceTimeout,
			ResumeTimeout:    defaultResumeTimeout,
			ResumeAttempts:   defaultResumeAttempts,
			BreakerThreshold: defaultBreakerThreshold,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Skipped:        true,
			Failures:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
