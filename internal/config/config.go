package config

import (
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Auth     Auth     `yaml:"auth"`
	Realtime Realtime `yaml:"realtime"`
	Media    Media    `yaml:"media"`
}

type Server struct {
	Bind          string `yaml:"bind" envconfig:"MONTAGE_BIND"`
	PostgresDsn   string `yaml:"postgresDsn" envconfig:"MONTAGE_POSTGRES_DSN"`
	RedisAddr     string `yaml:"redisAddr" envconfig:"MONTAGE_REDIS_ADDR"`
	RedisDB       int    `yaml:"redisDB" envconfig:"MONTAGE_REDIS_DB"`
	MemcachedAddr string `yaml:"memcachedAddr" envconfig:"MONTAGE_MEMCACHED_ADDR"`
	EnableTrace   bool   `yaml:"enableTrace" envconfig:"MONTAGE_ENABLE_TRACE"`
	TraceEndpoint string `yaml:"traceEndpoint" envconfig:"MONTAGE_TRACE_ENDPOINT"`
}

type Auth struct {
	// Secret signs and verifies session tokens (HS256).
	Secret   string        `yaml:"secret" envconfig:"MONTAGE_AUTH_SECRET"`
	Issuer   string        `yaml:"issuer" envconfig:"MONTAGE_AUTH_ISSUER"`
	TokenTTL time.Duration `yaml:"tokenTTL" envconfig:"MONTAGE_AUTH_TOKEN_TTL"`
}

type Realtime struct {
	// OplogRetention is how many committed operations each project keeps
	// in memory for rebasing and reconnect catch-up.
	OplogRetention int `yaml:"oplogRetention" envconfig:"MONTAGE_OPLOG_RETENTION"`
	// CursorRateHz caps cursor updates accepted per connection per second.
	CursorRateHz int `yaml:"cursorRateHz" envconfig:"MONTAGE_CURSOR_RATE_HZ"`
	// SendQueueSize is each connection's outbound frame buffer.
	SendQueueSize int `yaml:"sendQueueSize" envconfig:"MONTAGE_SEND_QUEUE_SIZE"`

	PingInterval time.Duration `yaml:"pingInterval" envconfig:"MONTAGE_PING_INTERVAL"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" envconfig:"MONTAGE_IDLE_TIMEOUT"`

	// SnapshotInterval and SnapshotOpThreshold bound how much operation log
	// the checkpointer lets accumulate before persisting a snapshot.
	SnapshotInterval    time.Duration `yaml:"snapshotInterval" envconfig:"MONTAGE_SNAPSHOT_INTERVAL"`
	SnapshotOpThreshold int           `yaml:"snapshotOpThreshold" envconfig:"MONTAGE_SNAPSHOT_OP_THRESHOLD"`
}

type Media struct {
	ResolverURL string        `yaml:"resolverURL" envconfig:"MONTAGE_MEDIA_RESOLVER_URL"`
	CacheTTL    time.Duration `yaml:"cacheTTL" envconfig:"MONTAGE_MEDIA_CACHE_TTL"`
}

// Load reads the yaml config file, then lets environment variables
// override individual fields.
func Load(path string) (Config, error) {
	config := defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return Config{}, err
		}
	}

	if err := envconfig.Process("montage", &config); err != nil {
		return Config{}, err
	}

	return config, nil
}

func defaults() Config {
	return Config{
		Server: Server{
			Bind: ":8000",
		},
		Auth: Auth{
			Issuer:   "montage",
			TokenTTL: 24 * time.Hour,
		},
		Realtime: Realtime{
			OplogRetention:      512,
			CursorRateHz:        20,
			SendQueueSize:       256,
			PingInterval:        15 * time.Second,
			IdleTimeout:         60 * time.Second,
			SnapshotInterval:    5 * time.Minute,
			SnapshotOpThreshold: 256,
		},
		Media: Media{
			CacheTTL: 5 * time.Minute,
		},
	}
}
