package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Redis      RedisConfig      `yaml:"redis"`
	Vision     VisionConfig     `yaml:"vision"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// Org scopes this process's in-memory C2/C5/C9 state to one
	// organization; C3's repository is multi-tenant, but one process
	// serves one org at a time (run one process per org to scale out).
	Org string `yaml:"org"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RedisConfig backs the optional secondary mirror of the identity index
// (spec §4.2's "optional secondary durable cache").
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Password string `yaml:"password"`
	DB      int    `yaml:"db"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	Backend            string  `yaml:"backend"` // cpu|cuda
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinCosineAccept    float64 `yaml:"min_cosine_accept"`
	DupThreshold       float64 `yaml:"dup_threshold"`
	WorkerCount        int     `yaml:"worker_count"`
	// IntraOpThreads/InterOpThreads cap ONNX Runtime session thread usage;
	// 0 leaves the ORT default. MinDetectSide is the "upscale small images
	// so min(h,w) >= N before detection" threshold (spec default 480).
	IntraOpThreads int `yaml:"intra_op_threads"`
	InterOpThreads int `yaml:"inter_op_threads"`
	MinDetectSide  int `yaml:"min_detect_side"`
}

// AttendanceConfig holds the scalars C5/C6/C7/C9 are parameterized by.
type AttendanceConfig struct {
	CooldownSec        int           `yaml:"cooldown_sec"`
	GraceInMin          int           `yaml:"grace_in_min"`
	GraceOutMin         int           `yaml:"grace_out_min"`
	MaxEvents           int           `yaml:"max_events"`
	WSMinInterval       time.Duration `yaml:"ws_min_interval"`
	LoginMessageDelay   time.Duration `yaml:"login_message_delay"`
	PreviewTTL          time.Duration `yaml:"preview_ttl"`
	PreviewCap          int           `yaml:"preview_cap"`
	GroupCacheTTL       time.Duration `yaml:"group_cache_ttl"`
	PersonCacheTTL      time.Duration `yaml:"person_cache_ttl"`
	PublicRegister      bool          `yaml:"public_register"`
}

// ReconcilerConfig drives C10, the optional directory watcher.
type ReconcilerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WatchDir        string        `yaml:"watch_dir"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Org == "" {
		cfg.Server.Org = "default"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = "cpu"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinCosineAccept == 0 {
		cfg.Vision.MinCosineAccept = 0.6
	}
	if cfg.Vision.DupThreshold == 0 {
		cfg.Vision.DupThreshold = cfg.Vision.MinCosineAccept
	}
	if cfg.Vision.MinDetectSide == 0 {
		cfg.Vision.MinDetectSide = 480
	}
	if cfg.Attendance.CooldownSec == 0 {
		cfg.Attendance.CooldownSec = 60
	}
	if cfg.Attendance.GraceInMin == 0 {
		cfg.Attendance.GraceInMin = 10
	}
	if cfg.Attendance.GraceOutMin == 0 {
		cfg.Attendance.GraceOutMin = 5
	}
	if cfg.Attendance.MaxEvents == 0 {
		cfg.Attendance.MaxEvents = 5000
	}
	if cfg.Attendance.WSMinInterval == 0 {
		cfg.Attendance.WSMinInterval = 150 * time.Millisecond
	}
	if cfg.Attendance.LoginMessageDelay == 0 {
		cfg.Attendance.LoginMessageDelay = 2 * time.Second
	}
	if cfg.Attendance.PreviewTTL == 0 {
		cfg.Attendance.PreviewTTL = 600 * time.Second
	}
	if cfg.Attendance.PreviewCap == 0 {
		cfg.Attendance.PreviewCap = 256
	}
	if cfg.Attendance.GroupCacheTTL == 0 {
		cfg.Attendance.GroupCacheTTL = 120 * time.Second
	}
	if cfg.Attendance.PersonCacheTTL == 0 {
		cfg.Attendance.PersonCacheTTL = 120 * time.Second
	}
	if cfg.Reconciler.WatchDir == "" {
		cfg.Reconciler.WatchDir = "uploads/face"
	}
	if cfg.Reconciler.DebounceWindow == 0 {
		cfg.Reconciler.DebounceWindow = 3 * time.Second
	}
	if cfg.Reconciler.ShutdownGrace == 0 {
		cfg.Reconciler.ShutdownGrace = 5 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FD_SERVER_ORG"); v != "" {
		cfg.Server.Org = v
	}
	if v := os.Getenv("FD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FD_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FD_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FD_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FD_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FD_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FD_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("FD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FD_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FD_VISION_BACKEND"); v != "" {
		cfg.Vision.Backend = v
	}
	if v := os.Getenv("FD_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("FD_COOLDOWN_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Attendance.CooldownSec = n
		}
	}
	if v := os.Getenv("FD_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Attendance.MaxEvents = n
		}
	}
	if v := os.Getenv("FD_RECONCILER_ENABLED"); v != "" {
		cfg.Reconciler.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("FD_RECONCILER_WATCH_DIR"); v != "" {
		cfg.Reconciler.WatchDir = v
	}
	if v := os.Getenv("FD_PUBLIC_REGISTER"); v != "" {
		cfg.Attendance.PublicRegister = v == "1" || v == "true"
	}
}
