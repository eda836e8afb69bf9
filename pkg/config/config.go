package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address             string        `yaml:"address"`
		Path                string        `yaml:"path"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		SendQueueSize       int           `yaml:"send_queue_size"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		ResumeGracePeriod   time.Duration `yaml:"resume_grace_period"`
		ResumeBufferSize    int           `yaml:"resume_buffer_size"`
		ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Sessions struct {
		MaxConnectionsPerSession int `yaml:"max_connections_per_session"`
		MaxStreamsPerSession     int `yaml:"max_streams_per_session"`
		MaxSubscribersPerStream  int `yaml:"max_subscribers_per_stream"`
	} `yaml:"sessions"`

	Auth struct {
		APIKey         string        `yaml:"api_key"`
		APISecret      string        `yaml:"api_secret"`
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	Client struct {
		ServerURL        string        `yaml:"server_url"`
		APIURL           string        `yaml:"api_url"`
		LogLevel         string        `yaml:"log_level"`
		StatsInterval    time.Duration `yaml:"stats_interval"`
		ConnectTimeout   time.Duration `yaml:"connect_timeout"`
		SignalQueueLimit int           `yaml:"signal_queue_limit"`
		Reconnect        struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
			Jitter       bool          `yaml:"jitter"`
		} `yaml:"reconnect"`
		// Dial failures in a row before new joins fail fast, and for how long.
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"client"`

	Media struct {
		ReportInterval       time.Duration `yaml:"report_interval"`
		WarningLossThreshold float64       `yaml:"warning_loss_threshold"`
		DisableLossThreshold float64       `yaml:"disable_loss_threshold"`
		RecoverLossThreshold float64       `yaml:"recover_loss_threshold"`
		ClockRate            uint32        `yaml:"clock_rate"`
	} `yaml:"media"`

	WebRTC struct {
		ICEServers        []ICEServer `yaml:"ice_servers"`
		ForceTURN         bool        `yaml:"force_turn"`
		UseCustomTURNOnly bool        `yaml:"use_custom_turn_only"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		Signals struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"signals"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}
	if c.Signal.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("signal.max_message_size_bytes must be > 0")
	}
	if c.Signal.ResumeGracePeriod < 0 {
		return fmt.Errorf("signal.resume_grace_period must be >= 0")
	}
	if c.Signal.ResumeBufferSize < 0 {
		return fmt.Errorf("signal.resume_buffer_size must be >= 0")
	}

	// Sessions
	if c.Sessions.MaxConnectionsPerSession <= 0 {
		return fmt.Errorf("sessions.max_connections_per_session must be > 0")
	}
	if c.Sessions.MaxStreamsPerSession <= 0 {
		return fmt.Errorf("sessions.max_streams_per_session must be > 0")
	}
	if c.Sessions.MaxSubscribersPerStream <= 0 {
		return fmt.Errorf("sessions.max_subscribers_per_stream must be > 0")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.APIKey == "" || c.Auth.APISecret == "" {
		return fmt.Errorf("auth.api_key and auth.api_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Client
	if c.Client.StatsInterval <= 0 {
		return fmt.Errorf("client.stats_interval must be > 0")
	}
	if c.Client.ConnectTimeout <= 0 {
		return fmt.Errorf("client.connect_timeout must be > 0")
	}
	if c.Client.SignalQueueLimit < 0 {
		return fmt.Errorf("client.signal_queue_limit must be >= 0")
	}
	if c.Client.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("client.reconnect.max_attempts must be >= 0")
	}
	if c.Client.Reconnect.Multiplier < 1 {
		return fmt.Errorf("client.reconnect.multiplier must be >= 1")
	}
	if c.Client.BreakerThreshold < 0 || c.Client.BreakerTimeout < 0 {
		return fmt.Errorf("client.breaker_threshold and client.breaker_timeout must be >= 0")
	}

	// Media
	if c.Media.ReportInterval <= 0 {
		return fmt.Errorf("media.report_interval must be > 0")
	}
	m := c.Media
	if !(m.RecoverLossThreshold < m.WarningLossThreshold && m.WarningLossThreshold < m.DisableLossThreshold && m.DisableLossThreshold <= 1) {
		return fmt.Errorf("media loss thresholds must satisfy recover < warning < disable <= 1")
	}

	// WebRTC
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}
	if c.WebRTC.UseCustomTURNOnly && len(c.WebRTC.ICEServers) == 0 {
		return fmt.Errorf("webrtc.use_custom_turn_only requires webrtc.ice_servers")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signals.PerSecond <= 0 {
			return fmt.Errorf("rate_limiting.signals.per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Signals.Burst <= 0 {
			return fmt.Errorf("rate_limiting.signals.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.MaxMessageSizeBytes = 64 * 1024
	cfg.Signal.ResumeGracePeriod = 15 * time.Second
	cfg.Signal.ResumeBufferSize = 512
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Sessions.MaxConnectionsPerSession = 256
	cfg.Sessions.MaxStreamsPerSession = 64
	cfg.Sessions.MaxSubscribersPerStream = 128

	cfg.Auth.APIKey = "devkey"
	cfg.Auth.APISecret = "change-me-in-production"
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.Client.ServerURL = "ws://localhost:8081/ws"
	cfg.Client.APIURL = "http://localhost:8080"
	cfg.Client.LogLevel = "info"
	cfg.Client.StatsInterval = time.Second
	cfg.Client.ConnectTimeout = 15 * time.Second
	cfg.Client.SignalQueueLimit = 128
	cfg.Client.Reconnect.MaxAttempts = 5
	cfg.Client.Reconnect.InitialDelay = 250 * time.Millisecond
	cfg.Client.Reconnect.MaxDelay = 5 * time.Second
	cfg.Client.Reconnect.Multiplier = 2.0
	cfg.Client.Reconnect.Jitter = true
	cfg.Client.BreakerThreshold = 5
	cfg.Client.BreakerTimeout = 10 * time.Second

	cfg.Media.ReportInterval = time.Second
	cfg.Media.WarningLossThreshold = 0.10
	cfg.Media.DisableLossThreshold = 0.25
	cfg.Media.RecoverLossThreshold = 0.05
	cfg.Media.ClockRate = 90000

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.Signals.PerSecond = 20
	cfg.RateLimiting.Signals.Burst = 40

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "rtclink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RTCLINK_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("RTCLINK_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("RTCLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RTCLINK_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if key := os.Getenv("RTCLINK_API_KEY"); key != "" {
		c.Auth.APIKey = key
	}
	if secret := os.Getenv("RTCLINK_API_SECRET"); secret != "" {
		c.Auth.APISecret = secret
	}
	if url := os.Getenv("RTCLINK_SERVER_URL"); url != "" {
		c.Client.ServerURL = url
	}
	if addr := os.Getenv("RTCLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Address = addr
	}
	if enabled, err := strconv.ParseBool(os.Getenv("RTCLINK_TRACING_ENABLED")); err == nil {
		c.Tracing.Enabled = enabled
	}
}
