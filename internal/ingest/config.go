package ingest

// Config controls the ingestion service. IngestPath is the scratch
// space jobs download and transcode inside; each job gets its own
// subdirectory which is removed when the job succeeds. Scratch left
// behind by failed jobs is kept for ScratchRetentionSecs so the
// partial output can be inspected, then swept.
type Config struct {
	IngestPath           string `yaml:"ingest_path" env:"INGEST_SCRATCH_PATH" env-default:"/tmp/carrot/ingests"`
	IngestionParallelism int    `yaml:"ingestion_parallelism" env:"INGEST_PARALLELISM" env-default:"2"`
	PollFrequencySecs    int    `yaml:"poll_frequency" env:"INGEST_POLL_FREQUENCY_SECS" env-default:"15"`
	ScratchRetentionSecs int    `yaml:"scratch_retention" env:"INGEST_SCRATCH_RETENTION_SECS" env-default:"3600"`
}
