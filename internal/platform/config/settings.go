package config

import (
	"encoding/json"
	"os"
	"time"
)

// Settings aggregates every environment variable this repo honors into a
// typed, documented structure. Fields carry json tags so a --config file
// overlay (CLI surface, §6) can set the same values; CLI flags still win
// over the file, which wins over the environment, which wins over the
// compiled-in default.
type Settings struct {
	// DatabaseURL is read from CORE_DATABASE_URL, falling back to
	// DATABASE_URL, per the external-interfaces contract.
	DatabaseURL string `json:"database_url"`

	// Lake paths and layout.
	LakeHotPath  string `json:"lake_hot_path"`
	LakeColdPath string `json:"lake_cold_path"`
	LakeTmpPath  string `json:"lake_tmp_path"`
	LakeShards   int    `json:"lake_shards"`

	// QdrantAddr is the host:port of the vector-index server the
	// embeddings executor upserts into. Empty disables the embeddings
	// job type entirely.
	QdrantAddr string `json:"qdrant_addr"`

	// DevActivityPath and FarmSetupStateDir are supplementary on-disk
	// state directories honored for parity with the external interfaces.
	DevActivityPath   string `json:"dev_activity_path"`
	FarmSetupStateDir string `json:"farm_setup_state_dir"`

	// Analysis Job Runtime.
	AnalysisLeaseTTL       time.Duration `json:"analysis_lease_ttl"`
	AnalysisMaxJobsPerUser int           `json:"analysis_max_jobs_per_user"`
	AnalysisPollInterval   time.Duration `json:"analysis_poll_interval"`

	// Ingest Sidecar.
	COVTolerance     float64       `json:"cov_tolerance"`
	IngestBatchSize  int           `json:"ingest_batch_size"`
	IngestFlushEvery time.Duration `json:"ingest_flush_every"`

	// Liveness Monitor / Alarm Engine / Replication Ticker cadences.
	LivenessSweepInterval    time.Duration `json:"liveness_sweep_interval"`
	AlarmTickInterval        time.Duration `json:"alarm_tick_interval"`
	IncidentSnoozeSweep      time.Duration `json:"incident_snooze_sweep"`
	ReplicationTickInterval  time.Duration `json:"replication_tick_interval"`
	RuleEnvelopeDir          string        `json:"rule_envelope_dir"`

	// Spool (node-side).
	SpoolDir             string `json:"spool_dir"`
	SpoolRetentionBytes  int64  `json:"spool_retention_bytes"`
	SpoolHTTPAddr        string `json:"spool_http_addr"`

	// Forwarder (node-side).
	ForwarderMsgsPerSec  float64 `json:"forwarder_msgs_per_sec"`
	ForwarderBytesPerSec float64 `json:"forwarder_bytes_per_sec"`
	ForwarderMaxRetry    int     `json:"forwarder_max_retry"`

	// Observability.
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Defaults returns the compiled-in defaults, the lowest-priority layer.
func Defaults() Settings {
	return Settings{
		LakeHotPath:             "./data/lake/hot",
		LakeColdPath:            "./data/lake/cold",
		LakeTmpPath:             "./data/lake/tmp",
		LakeShards:              16,
		DevActivityPath:         "./data/dev-activity",
		FarmSetupStateDir:       "./data/setup-state",
		AnalysisLeaseTTL:        10 * time.Minute,
		AnalysisMaxJobsPerUser:  20,
		AnalysisPollInterval:    2 * time.Second,
		COVTolerance:            1e-6,
		IngestBatchSize:         500,
		IngestFlushEvery:        5 * time.Second,
		LivenessSweepInterval:   30 * time.Second,
		AlarmTickInterval:       10 * time.Second,
		IncidentSnoozeSweep:     30 * time.Second,
		ReplicationTickInterval: 60 * time.Second,
		RuleEnvelopeDir:         "./config/rules",
		SpoolDir:                "./data/spool",
		SpoolRetentionBytes:     2 << 30, // 2 GiB
		SpoolHTTPAddr:           ":8081",
		ForwarderMsgsPerSec:     200,
		ForwarderBytesPerSec:    2 << 20, // 2 MiB/s
		ForwarderMaxRetry:       8,
		LogLevel:                "info",
		LogFormat:               "json",
	}
}

// LoadFromEnv overlays environment variables on top of defaults.
func LoadFromEnv() Settings {
	s := Defaults()

	s.DatabaseURL = GetEnv("CORE_DATABASE_URL", GetEnv("DATABASE_URL", s.DatabaseURL))
	s.LakeHotPath = GetEnv("CORE_ANALYSIS_LAKE_HOT_PATH", s.LakeHotPath)
	s.LakeColdPath = GetEnv("CORE_ANALYSIS_LAKE_COLD_PATH", s.LakeColdPath)
	s.LakeTmpPath = GetEnv("CORE_ANALYSIS_TMP_PATH", s.LakeTmpPath)
	s.LakeShards = GetEnvInt("CORE_ANALYSIS_LAKE_SHARDS", s.LakeShards)
	s.QdrantAddr = GetEnv("CORE_QDRANT_ADDR", s.QdrantAddr)
	s.DevActivityPath = GetEnv("CORE_DEV_ACTIVITY_PATH", s.DevActivityPath)
	s.FarmSetupStateDir = GetEnv("FARM_SETUP_STATE_DIR", s.FarmSetupStateDir)

	s.AnalysisLeaseTTL = GetEnvDuration("ANALYSIS_LEASE_TTL", s.AnalysisLeaseTTL)
	s.AnalysisMaxJobsPerUser = GetEnvInt("ANALYSIS_MAX_JOBS_PER_USER", s.AnalysisMaxJobsPerUser)
	s.AnalysisPollInterval = GetEnvDuration("ANALYSIS_POLL_INTERVAL", s.AnalysisPollInterval)

	s.IngestBatchSize = GetEnvInt("INGEST_BATCH_SIZE", s.IngestBatchSize)
	s.IngestFlushEvery = GetEnvDuration("INGEST_FLUSH_EVERY", s.IngestFlushEvery)

	s.LivenessSweepInterval = GetEnvDuration("LIVENESS_SWEEP_INTERVAL", s.LivenessSweepInterval)
	s.AlarmTickInterval = GetEnvDuration("ALARM_TICK_INTERVAL", s.AlarmTickInterval)
	s.IncidentSnoozeSweep = GetEnvDuration("INCIDENT_SNOOZE_SWEEP", s.IncidentSnoozeSweep)
	s.ReplicationTickInterval = GetEnvDuration("REPLICATION_TICK_INTERVAL", s.ReplicationTickInterval)
	s.RuleEnvelopeDir = GetEnv("RULE_ENVELOPE_DIR", s.RuleEnvelopeDir)

	s.SpoolDir = GetEnv("SPOOL_DIR", s.SpoolDir)
	s.SpoolRetentionBytes = GetEnvByteSize("SPOOL_RETENTION_BYTES", s.SpoolRetentionBytes)
	s.SpoolHTTPAddr = GetEnv("SPOOL_HTTP_ADDR", s.SpoolHTTPAddr)

	s.ForwarderMsgsPerSec = GetEnvFloat("FORWARDER_MSGS_PER_SEC", s.ForwarderMsgsPerSec)
	s.ForwarderBytesPerSec = GetEnvFloat("FORWARDER_BYTES_PER_SEC", s.ForwarderBytesPerSec)
	s.ForwarderMaxRetry = GetEnvInt("FORWARDER_MAX_RETRY", s.ForwarderMaxRetry)

	s.LogLevel = GetEnv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = GetEnv("LOG_FORMAT", s.LogFormat)

	return s
}

// LoadFile overlays a JSON config file on s, returning the merged result.
// Missing file is not an error, as the CLI surface's --config is optional.
func (s Settings) LoadFile(path string) (Settings, error) {
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	merged := s
	if err := json.Unmarshal(data, &merged); err != nil {
		return s, err
	}
	return merged, nil
}
