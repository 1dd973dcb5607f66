package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Security SecurityConfig `mapstructure:"security"`
	Quest    QuestConfig    `mapstructure:"quest"`
	Rival    RivalConfig    `mapstructure:"rival"`
	Resource ResourceConfig `mapstructure:"resource"`
	Plugin   PluginConfig   `mapstructure:"plugin"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any IP that holds the admin key
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// StorageConfig selects where per-user quest state is persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // db | cache
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	// AllowedOrigins lists the SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type QuestConfig struct {
	QuickAddMinXP   int `mapstructure:"quick_add_min_xp"`
	QuickAddMaxXP   int `mapstructure:"quick_add_max_xp"`
	DefaultFormXP   int `mapstructure:"default_form_xp"`
	DefaultSubXP    int `mapstructure:"default_subtask_xp"`
	MaxImages       int `mapstructure:"max_images"`
	ActivityLogSize int `mapstructure:"activity_log_size"`
}

type RivalConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	HourlyPeriod time.Duration `mapstructure:"hourly_period"`
	DriftMax     int           `mapstructure:"drift_max"`
	InitialXP    int           `mapstructure:"initial_xp"`
	DefaultRule  string        `mapstructure:"default_rule"`
	DefaultValue int           `mapstructure:"default_value"`
	// UnmountGrace keeps the ticker alive briefly after the last stream
	// closes so a reconnecting browser does not reset the rule anchors.
	UnmountGrace time.Duration `mapstructure:"unmount_grace"`
}

type ResourceConfig struct {
	StarterPath string `mapstructure:"starter_path"` // empty uses the built-in pack
	SeedNewUser bool   `mapstructure:"seed_new_user"`
}

// PluginConfig points at JavaScript hook scripts. An empty ScriptDir
// disables scripting.
type PluginConfig struct {
	ScriptDir     string        `mapstructure:"script_dir"`
	PoolSize      int           `mapstructure:"pool_size"`
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/pixelprogress.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("storage.backend", "db")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("quest.quick_add_min_xp", 10)
	v.SetDefault("quest.quick_add_max_xp", 39)
	v.SetDefault("quest.default_form_xp", 10)
	v.SetDefault("quest.default_subtask_xp", 5)
	v.SetDefault("quest.max_images", 8)
	v.SetDefault("quest.activity_log_size", 50)
	v.SetDefault("rival.tick_interval", "7s")
	v.SetDefault("rival.hourly_period", "1h")
	v.SetDefault("rival.drift_max", 2)
	v.SetDefault("rival.initial_xp", 1100)
	v.SetDefault("rival.default_rule", "hourly")
	v.SetDefault("rival.default_value", 10)
	v.SetDefault("rival.unmount_grace", "10s")
	v.SetDefault("resource.seed_new_user", true)
	v.SetDefault("plugin.pool_size", 4)
	v.SetDefault("plugin.script_timeout", "200ms")
}

// Default returns a Config populated only from defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
