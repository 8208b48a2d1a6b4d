// Package config defines the resolved configuration consumed by the memory
// manager and the CLI. Values come from a YAML file with environment
// overrides; every knob has a default so an empty config is usable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the memory implementation.
type Backend string

const (
	BackendBuiltin Backend = "builtin"
	BackendMongoDB Backend = "mongodb"
	BackendQMD     Backend = "qmd"
)

// EmbeddingMode controls who computes embeddings.
type EmbeddingMode string

const (
	// EmbeddingManaged means the application calls the embedding provider
	// and passes vectors to the database.
	EmbeddingManaged EmbeddingMode = "managed"
	// EmbeddingAutomated means the database generates query embeddings
	// in-engine from raw text.
	EmbeddingAutomated EmbeddingMode = "automated"
)

// FusionMethod is the preferred hybrid-search strategy.
type FusionMethod string

const (
	FusionScore   FusionMethod = "scoreFusion"
	FusionRank    FusionMethod = "rankFusion"
	FusionJSMerge FusionMethod = "js-merge"
)

// DeploymentProfile gates embedding mode and search-engine expectations.
type DeploymentProfile string

const (
	ProfileAtlasDefault   DeploymentProfile = "atlas-default"
	ProfileAtlasM0        DeploymentProfile = "atlas-m0"
	ProfileCommunityMongo DeploymentProfile = "community-mongot"
	ProfileCommunityBare  DeploymentProfile = "community-bare"
)

// ExpectsSearchEngine reports whether deployments under this profile come
// with mongot or Atlas Search attached. community-bare is plain mongod.
func (p DeploymentProfile) ExpectsSearchEngine() bool {
	return p != ProfileCommunityBare
}

// SupportsAutomatedEmbeddings reports whether the deployment can generate
// embeddings in-engine. Only full Atlas clusters can; everything else
// needs the managed embedding path.
func (p DeploymentProfile) SupportsAutomatedEmbeddings() bool {
	return p == ProfileAtlasDefault
}

// CitationsMode controls snippet citation attachment.
type CitationsMode string

const (
	CitationsAuto CitationsMode = "auto"
	CitationsOn   CitationsMode = "on"
	CitationsOff  CitationsMode = "off"
)

// EnvMongoURI overrides the configured connection string.
const EnvMongoURI = "OPENCLAW_MONGODB_URI"

// Config is the complete mongomem configuration.
type Config struct {
	Backend           Backend           `yaml:"backend" json:"backend"`
	URI               string            `yaml:"uri" json:"uri"`
	Database          string            `yaml:"database" json:"database"`
	CollectionPrefix  string            `yaml:"collection_prefix" json:"collection_prefix"`
	DeploymentProfile DeploymentProfile `yaml:"deployment_profile" json:"deployment_profile"`

	EmbeddingMode EmbeddingMode `yaml:"embedding_mode" json:"embedding_mode"`
	FusionMethod  FusionMethod  `yaml:"fusion_method" json:"fusion_method"`
	NumDimensions int           `yaml:"num_dimensions" json:"num_dimensions"`
	NumCandidates int           `yaml:"num_candidates" json:"num_candidates"`

	// VectorWeight and TextWeight tune hybrid fusion. They should sum to 1.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	TextWeight   float64 `yaml:"text_weight" json:"text_weight"`

	WatchDebounceMs        int  `yaml:"watch_debounce_ms" json:"watch_debounce_ms"`
	ChangeStreamDebounceMs int  `yaml:"change_stream_debounce_ms" json:"change_stream_debounce_ms"`
	EnableChangeStreams    bool `yaml:"enable_change_streams" json:"enable_change_streams"`

	MemoryTTLDays         int `yaml:"memory_ttl_days" json:"memory_ttl_days"`
	EmbeddingCacheTTLDays int `yaml:"embedding_cache_ttl_days" json:"embedding_cache_ttl_days"`
	MaxSessionChunks      int `yaml:"max_session_chunks" json:"max_session_chunks"`

	Workspace  WorkspaceConfig `yaml:"workspace" json:"workspace"`
	KB         KBConfig        `yaml:"kb" json:"kb"`
	Embeddings EmbedderConfig  `yaml:"embeddings" json:"embeddings"`

	Citations CitationsMode `yaml:"citations" json:"citations"`
}

// WorkspaceConfig locates the files the sync engine indexes.
type WorkspaceConfig struct {
	// Root is the workspace root; memory paths are relative to it.
	Root string `yaml:"root" json:"root"`
	// SessionsDir holds persisted session transcripts.
	SessionsDir string `yaml:"sessions_dir" json:"sessions_dir"`
	// ExtraMemoryPaths are indexed in addition to MEMORY.md, memory.md
	// and memory/**.
	ExtraMemoryPaths []string `yaml:"extra_memory_paths" json:"extra_memory_paths"`
}

// KBConfig tunes the knowledge-base pipeline.
type KBConfig struct {
	Chunking         ChunkingConfig `yaml:"chunking" json:"chunking"`
	MaxDocumentSize  int            `yaml:"max_document_size" json:"max_document_size"`
	AutoImportPaths  []string       `yaml:"auto_import_paths" json:"auto_import_paths"`
	AutoRefreshHours int            `yaml:"auto_refresh_hours" json:"auto_refresh_hours"`
	Recursive        *bool          `yaml:"recursive" json:"recursive"`
}

// ChunkingConfig sets token budgets for the chunker.
type ChunkingConfig struct {
	Tokens  int `yaml:"tokens" json:"tokens"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbedderConfig configures the external embedding provider.
type EmbedderConfig struct {
	// Endpoint is an OpenAI-compatible embeddings endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the provider key.
	// The key itself never lives in the config file.
	APIKeyEnv string        `yaml:"api_key_env" json:"api_key_env"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Backend:           BackendMongoDB,
		URI:               "mongodb://localhost:27017",
		Database:          "openclaw",
		CollectionPrefix:  "openclaw_",
		DeploymentProfile: ProfileCommunityMongo,

		EmbeddingMode: EmbeddingManaged,
		FusionMethod:  FusionScore,
		NumDimensions: 1024,
		NumCandidates: 200,
		VectorWeight:  0.7,
		TextWeight:    0.3,

		WatchDebounceMs:        500,
		ChangeStreamDebounceMs: 1000,
		EnableChangeStreams:    false,

		MemoryTTLDays:         0,
		EmbeddingCacheTTLDays: 30,
		MaxSessionChunks:      50,

		Workspace: WorkspaceConfig{
			Root:        ".",
			SessionsDir: "sessions",
		},
		KB: KBConfig{
			Chunking:         ChunkingConfig{Tokens: 600, Overlap: 100},
			MaxDocumentSize:  10 * 1024 * 1024,
			AutoRefreshHours: 24,
		},
		Embeddings: EmbedderConfig{
			Endpoint:  "http://localhost:11434/v1/embeddings",
			Model:     "mxbai-embed-large",
			APIKeyEnv: "OPENCLAW_EMBED_API_KEY",
			BatchSize: 32,
			Timeout:   60 * time.Second,
		},

		Citations: CitationsAuto,
	}
}

// Load reads a YAML config file, applies defaults for unset fields, applies
// environment overrides, and validates the result. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables over file values.
func (c *Config) applyEnvOverrides() {
	if uri := os.Getenv(EnvMongoURI); uri != "" {
		c.URI = uri
	}
}

// Validate checks enum fields and clamps numeric ranges.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBuiltin, BackendMongoDB, BackendQMD:
	default:
		return fmt.Errorf("invalid backend %q (want builtin, mongodb, or qmd)", c.Backend)
	}
	switch c.EmbeddingMode {
	case EmbeddingManaged, EmbeddingAutomated:
	default:
		return fmt.Errorf("invalid embedding_mode %q", c.EmbeddingMode)
	}
	switch c.FusionMethod {
	case FusionScore, FusionRank, FusionJSMerge:
	default:
		return fmt.Errorf("invalid fusion_method %q", c.FusionMethod)
	}
	switch c.Citations {
	case CitationsAuto, CitationsOn, CitationsOff:
	default:
		return fmt.Errorf("invalid citations mode %q", c.Citations)
	}
	switch c.DeploymentProfile {
	case ProfileAtlasDefault, ProfileAtlasM0, ProfileCommunityMongo, ProfileCommunityBare:
	case "":
		c.DeploymentProfile = ProfileCommunityMongo
	default:
		return fmt.Errorf("invalid deployment_profile %q", c.DeploymentProfile)
	}
	if c.EmbeddingMode == EmbeddingAutomated && !c.DeploymentProfile.SupportsAutomatedEmbeddings() {
		return fmt.Errorf("embedding_mode %q requires deployment_profile %q; profile %q needs managed embeddings",
			EmbeddingAutomated, ProfileAtlasDefault, c.DeploymentProfile)
	}

	if c.NumDimensions <= 0 {
		c.NumDimensions = 1024
	}
	if c.NumCandidates <= 0 {
		c.NumCandidates = 200
	}
	// Approx-NN candidate pools above 10k buy nothing and hurt latency.
	if c.NumCandidates > 10000 {
		c.NumCandidates = 10000
	}
	if c.VectorWeight <= 0 && c.TextWeight <= 0 {
		c.VectorWeight, c.TextWeight = 0.7, 0.3
	}
	if c.WatchDebounceMs <= 0 {
		c.WatchDebounceMs = 500
	}
	if c.ChangeStreamDebounceMs <= 0 {
		c.ChangeStreamDebounceMs = 1000
	}
	if c.MaxSessionChunks <= 0 {
		c.MaxSessionChunks = 50
	}
	if c.KB.MaxDocumentSize <= 0 {
		c.KB.MaxDocumentSize = 10 * 1024 * 1024
	}
	if c.KB.Chunking.Tokens <= 0 {
		c.KB.Chunking.Tokens = 600
	}
	if c.KB.Chunking.Overlap < 0 || c.KB.Chunking.Overlap >= c.KB.Chunking.Tokens {
		c.KB.Chunking.Overlap = c.KB.Chunking.Tokens / 6
	}
	if c.Database == "" {
		c.Database = "openclaw"
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "openclaw_"
	}
	return nil
}

// KBRecursive reports whether directory ingest walks subdirectories.
// Defaults to true when unset.
func (c *Config) KBRecursive() bool {
	if c.KB.Recursive == nil {
		return true
	}
	return *c.KB.Recursive
}

// WatchDebounce returns the filesystem debounce window as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// ChangeStreamDebounce returns the change-stream batch window as a duration.
func (c *Config) ChangeStreamDebounce() time.Duration {
	return time.Duration(c.ChangeStreamDebounceMs) * time.Millisecond
}

// MemoryPaths lists the workspace-relative paths the sync engine indexes.
func (c *Config) MemoryPaths() []string {
	paths := []string{"MEMORY.md", "memory.md", "memory"}
	paths = append(paths, c.Workspace.ExtraMemoryPaths...)
	return paths
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mongomem.yaml"
	}
	return filepath.Join(home, ".mongomem", "config.yaml")
}

// RedactURI masks credentials in a MongoDB connection string before it is
// echoed to users or logs.
func RedactURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd < 0 {
		return uri
	}
	rest := uri[schemeEnd+3:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return uri
	}
	return uri[:schemeEnd+3] + "***:***@" + rest[at+1:]
}
