package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Store       StoreConfig       `yaml:"store"`
	Archive     ArchiveConfig     `yaml:"archive"`
	STT         STTConfig         `yaml:"stt"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Catalog     CatalogConfig     `yaml:"catalog"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"` // sqlite, postgres
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEvents     int    `yaml:"max_events"`
}

type ArchiveConfig struct {
	Mode          string `yaml:"mode"` // none, dir, s3
	Directory     string `yaml:"directory"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, http
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	Encoding   string `yaml:"encoding"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	MockText   string `yaml:"mock_text"`
}

type PhoneticConfig struct {
	Enabled           bool    `yaml:"enabled"`
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
}

type RecognitionConfig struct {
	Strategy         string         `yaml:"strategy"` // matcher, classifier
	WindowWords      int            `yaml:"window_words"`
	QuantityPosition string         `yaml:"quantity_position"`
	Numerals         map[string]int `yaml:"numerals"`
	Phonetic         PhoneticConfig `yaml:"phonetic"`
}

type ClassifierConfig struct {
	Mode              string    `yaml:"mode"` // mock, exec, http
	VocabPath         string    `yaml:"vocab_path"`
	SequenceLength    int       `yaml:"sequence_length"`
	Threshold         float64   `yaml:"threshold"`
	Command           string    `yaml:"command"`
	Endpoint          string    `yaml:"endpoint"`
	TimeoutMS         int       `yaml:"timeout_ms"`
	ExtractQuantities bool      `yaml:"extract_quantities"`
	MockScores        []float64 `yaml:"mock_scores"`
}

type SessionsConfig struct {
	TTL         int `yaml:"ttl_ms"`
	MaxSessions int `yaml:"max_sessions"`
	NoteLimit   int `yaml:"note_limit"`
}

type CatalogConfig struct {
	SeedPath string `yaml:"seed_path"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-order",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8080,
			CORSOrigins:    []string{"*"},
			MaxUploadBytes: 25 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			Path:          "./data/loqa-order.db",
			RetentionDays: 30,
			MaxEvents:     100000,
		},
		Archive: ArchiveConfig{
			Mode:      "none",
			Directory: "./data/archive",
			Region:    "auto",
		},
		STT: STTConfig{
			Mode:       "mock",
			Endpoint:   "http://localhost:8000",
			Model:      "whisper-1",
			Language:   "id-ID",
			Encoding:   "LINEAR16",
			SampleRate: 16000,
			Channels:   1,
			TimeoutMS:  15000,
		},
		Recognition: RecognitionConfig{
			Strategy:         "matcher",
			WindowWords:      3,
			QuantityPosition: "before",
			Phonetic: PhoneticConfig{
				Enabled:           false,
				PhoneticThreshold: 0.70,
				FuzzyThreshold:    0.85,
			},
		},
		Classifier: ClassifierConfig{
			Mode:           "mock",
			SequenceLength: 20,
			Threshold:      0.5,
			TimeoutMS:      5000,
		},
		Sessions: SessionsConfig{
			TTL:         30 * 60 * 1000,
			MaxSessions: 1000,
			NoteLimit:   1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_HTTP_CORS_ORIGINS")
	overrideInt64(&cfg.HTTP.MaxUploadBytes, "LOQA_HTTP_MAX_UPLOAD_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Driver, "LOQA_STORE_DRIVER")
	overrideString(&cfg.Store.Path, "LOQA_STORE_PATH")
	overrideString(&cfg.Store.DSN, "LOQA_STORE_DSN")
	overrideString(&cfg.Store.DSN, "DATABASE_URL")
	overrideInt(&cfg.Store.RetentionDays, "LOQA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxEvents, "LOQA_STORE_MAX_EVENTS")
	overrideString(&cfg.Archive.Mode, "LOQA_ARCHIVE_MODE")
	overrideString(&cfg.Archive.Directory, "LOQA_ARCHIVE_DIRECTORY")
	overrideString(&cfg.Archive.Endpoint, "LOQA_ARCHIVE_ENDPOINT")
	overrideString(&cfg.Archive.Region, "LOQA_ARCHIVE_REGION")
	overrideString(&cfg.Archive.Bucket, "LOQA_ARCHIVE_BUCKET")
	overrideString(&cfg.Archive.AccessKey, "LOQA_ARCHIVE_ACCESS_KEY")
	overrideString(&cfg.Archive.SecretKey, "LOQA_ARCHIVE_SECRET_KEY")
	overrideString(&cfg.Archive.PublicBaseURL, "LOQA_ARCHIVE_PUBLIC_BASE_URL")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.Encoding, "LOQA_STT_ENCODING")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideString(&cfg.STT.MockText, "LOQA_STT_MOCK_TEXT")
	overrideString(&cfg.Recognition.Strategy, "LOQA_RECOGNITION_STRATEGY")
	overrideInt(&cfg.Recognition.WindowWords, "LOQA_RECOGNITION_WINDOW_WORDS")
	overrideString(&cfg.Recognition.QuantityPosition, "LOQA_RECOGNITION_QUANTITY_POSITION")
	overrideBool(&cfg.Recognition.Phonetic.Enabled, "LOQA_RECOGNITION_PHONETIC_ENABLED")
	overrideFloat(&cfg.Recognition.Phonetic.PhoneticThreshold, "LOQA_RECOGNITION_PHONETIC_THRESHOLD")
	overrideFloat(&cfg.Recognition.Phonetic.FuzzyThreshold, "LOQA_RECOGNITION_FUZZY_THRESHOLD")
	overrideString(&cfg.Classifier.Mode, "LOQA_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.VocabPath, "LOQA_CLASSIFIER_VOCAB_PATH")
	overrideInt(&cfg.Classifier.SequenceLength, "LOQA_CLASSIFIER_SEQUENCE_LENGTH")
	overrideFloat(&cfg.Classifier.Threshold, "LOQA_CLASSIFIER_THRESHOLD")
	overrideString(&cfg.Classifier.Command, "LOQA_CLASSIFIER_COMMAND")
	overrideString(&cfg.Classifier.Endpoint, "LOQA_CLASSIFIER_ENDPOINT")
	overrideInt(&cfg.Classifier.TimeoutMS, "LOQA_CLASSIFIER_TIMEOUT_MS")
	overrideBool(&cfg.Classifier.ExtractQuantities, "LOQA_CLASSIFIER_EXTRACT_QUANTITIES")
	overrideInt(&cfg.Sessions.TTL, "LOQA_SESSIONS_TTL_MS")
	overrideInt(&cfg.Sessions.MaxSessions, "LOQA_SESSIONS_MAX_SESSIONS")
	overrideInt(&cfg.Sessions.NoteLimit, "LOQA_SESSIONS_NOTE_LIMIT")
	overrideString(&cfg.Catalog.SeedPath, "LOQA_CATALOG_SEED_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty when driver=sqlite")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			return errors.New("store.dsn must be set when driver=postgres")
		}
	default:
		return errors.New("store.driver must be one of sqlite|postgres")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Store.MaxEvents < 0 {
		return errors.New("store.max_events must be >= 0")
	}
	switch cfg.Archive.Mode {
	case "none":
	case "dir":
		if cfg.Archive.Directory == "" {
			return errors.New("archive.directory must be set when mode=dir")
		}
	case "s3":
		if cfg.Archive.Bucket == "" {
			return errors.New("archive.bucket must be set when mode=s3")
		}
	default:
		return errors.New("archive.mode must be one of none|dir|s3")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "http":
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=http")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|http")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	switch cfg.Recognition.Strategy {
	case "matcher", "classifier":
	default:
		return errors.New("recognition.strategy must be one of matcher|classifier")
	}
	if cfg.Recognition.WindowWords <= 0 {
		return errors.New("recognition.window_words must be >= 1")
	}
	switch cfg.Recognition.QuantityPosition {
	case "before", "after", "nearest":
	default:
		return errors.New("recognition.quantity_position must be one of before|after|nearest")
	}
	for word, n := range cfg.Recognition.Numerals {
		if strings.TrimSpace(word) == "" || n < 0 {
			return fmt.Errorf("recognition.numerals entry %q must map a word to a value >= 0", word)
		}
	}
	if cfg.Recognition.Strategy == "classifier" {
		switch cfg.Classifier.Mode {
		case "mock":
		case "exec":
			if cfg.Classifier.Command == "" {
				return errors.New("classifier.command must be set when mode=exec")
			}
		case "http":
			if cfg.Classifier.Endpoint == "" {
				return errors.New("classifier.endpoint must be set when mode=http")
			}
		default:
			return errors.New("classifier.mode must be one of mock|exec|http")
		}
		if cfg.Classifier.Mode != "mock" && cfg.Classifier.VocabPath == "" {
			return errors.New("classifier.vocab_path must be set for model-backed classifiers")
		}
	}
	if cfg.Classifier.SequenceLength <= 0 {
		return errors.New("classifier.sequence_length must be >= 1")
	}
	if cfg.Classifier.Threshold < 0 || cfg.Classifier.Threshold >= 1 {
		return errors.New("classifier.threshold must be within [0, 1)")
	}
	if cfg.Classifier.TimeoutMS <= 0 {
		return errors.New("classifier.timeout_ms must be positive")
	}
	if cfg.Sessions.TTL <= 0 {
		return errors.New("sessions.ttl_ms must be positive")
	}
	if cfg.Sessions.MaxSessions <= 0 {
		return errors.New("sessions.max_sessions must be >= 1")
	}
	if cfg.Sessions.NoteLimit <= 0 {
		return errors.New("sessions.note_limit must be >= 1")
	}
	return nil
}
