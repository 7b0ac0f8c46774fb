// Package config defines the engine's configuration knobs (spec.md
// §6) and the on-disk data directory they apply to. Struct tags carry
// both YAML field names (github.com/goccy/go-yaml) and validation
// rules (github.com/go-playground/validator/v10), matching the
// teacher's pattern of pairing the two on every config field.
package config

type Config struct {
	Logger LoggerConfig `yaml:"logger" validate:"required"`
	DB     DB            `yaml:"db" validate:"required"`
}

type DB struct {
	DataDir     string            `yaml:"data_dir" validate:"required"`
	Memtable    MemtableConfig    `yaml:"memtable" validate:"required"`
	Persistence PersistenceConfig `yaml:"persistence" validate:"required"`
}

// MemtableConfig controls the in-memory write buffer.
type MemtableConfig struct {
	// FlushThresholdBytes is memtable_flush_bytes: the byte-size at
	// which the active MemTable is frozen and flushed.
	FlushThresholdBytes int64 `yaml:"flush_threshold_bytes" validate:"required,min=1"`
}

// PersistenceConfig controls SSTable layout and compaction.
type PersistenceConfig struct {
	// SparseIndexStride is sparse_index_stride: every Nth key kept
	// in an SSTable's in-memory sparse index.
	SparseIndexStride int `yaml:"sparse_index_stride" validate:"required,min=1"`
	// LevelFileThreshold is level_file_threshold: a level is compacted
	// once its SSTable count exceeds this value.
	LevelFileThreshold int `yaml:"level_file_threshold" validate:"required,min=1"`
	// MaxLevels is max_levels: the maximum number of levels, L0..Lmax-1.
	MaxLevels int `yaml:"max_levels" validate:"required,min=1"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns the baseline configuration spec.md §6 lists as
// each knob's default.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		DB: DB{
			DataDir: "./data",
			Memtable: MemtableConfig{
				FlushThresholdBytes: 64 * 1024 * 1024,
			},
			Persistence: PersistenceConfig{
				SparseIndexStride:  100,
				LevelFileThreshold: 10,
				MaxLevels:          3,
			},
		},
	}
}
