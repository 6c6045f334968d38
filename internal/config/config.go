package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	StoreBackend            string `mapstructure:"store_backend"                 validate:"oneof=redis memory"`
	RedisAddr               string `mapstructure:"redis_addr"`
	RedisPassword           string `mapstructure:"redis_password"`
	RedisDB                 int    `mapstructure:"redis_db"`
	RedisTimeout            int    `mapstructure:"redis_timeout"`
	RedisRetryMaxAttempts   uint   `mapstructure:"redis_retry_max_attempts"`
	RedisRetryBackoffMin    int    `mapstructure:"redis_retry_backoff_min"`
	RedisRetryBackoffMax    int    `mapstructure:"redis_retry_backoff_max"`
	RedisIntervalCB         uint32 `mapstructure:"redis_interval_cb"`
	RedisConsecutiveFailsCB uint32 `mapstructure:"redis_consecutive_failures_cb"`

	SessionTTLHours int `mapstructure:"session_ttl_hours"`
	OutboxTTLHours  int `mapstructure:"outbox_ttl_hours"`

	RateLimitWindowHours int `mapstructure:"rate_limit_window_hours"`
	RateLimitMaxCalls    int `mapstructure:"rate_limit_max_calls"`

	WebhookTargetURL        string `mapstructure:"webhook_target_url"`
	WebhookTimeout          int    `mapstructure:"webhook_timeout"`
	WebhookMaxRetries       int    `mapstructure:"webhook_max_retries"`
	WebhookBaseDelay        int    `mapstructure:"webhook_base_delay"`
	WebhookMaxDelay         int    `mapstructure:"webhook_max_delay"`
	WebhookLeaseTimeout     int    `mapstructure:"webhook_lease_timeout"`
	DispatcherPoolSize      int    `mapstructure:"dispatcher_pool_size"`
	DispatcherInterval      int    `mapstructure:"dispatcher_interval"`
	DispatcherBatchSize     int    `mapstructure:"dispatcher_batch_size"`
	EnqueueRetryMaxAttempts uint   `mapstructure:"enqueue_retry_max_attempts"`

	GapThresholdMonths int    `mapstructure:"gap_threshold_months"`
	GapLookbackYears   int    `mapstructure:"gap_lookback_years"`
	GapIndustryMapJSON string `mapstructure:"gap_industry_map_json"`

	AdversarialShortWordMax        int     `mapstructure:"adversarial_short_word_max"`
	AdversarialShortRatioWeight    float64 `mapstructure:"adversarial_short_ratio_weight"`
	AdversarialRefusalWeight       float64 `mapstructure:"adversarial_refusal_weight"`
	AdversarialHostileWeight       float64 `mapstructure:"adversarial_hostile_weight"`
	AdversarialContradictionWeight float64 `mapstructure:"adversarial_contradiction_weight"`
	AdversarialLatencyWeight       float64 `mapstructure:"adversarial_latency_weight"`
	AdversarialLatencyThresholdMS  int     `mapstructure:"adversarial_latency_threshold_ms"`

	ConfidenceNameWeight     float64 `mapstructure:"confidence_name_weight"`
	ConfidenceEmployerWeight float64 `mapstructure:"confidence_employer_weight"`
	ConfidenceSkillWeight    float64 `mapstructure:"confidence_skill_weight"`
	ConfidenceConsentWeight  float64 `mapstructure:"confidence_consent_weight"`

	KafkaBootstrapServer       string `mapstructure:"kafka_bootstrap_server"`
	KafkaUsername              string `mapstructure:"kafka_username"`
	KafkaPassword              string `mapstructure:"kafka_password"`
	KafkaCallEventsTopic       string `mapstructure:"kafka_call_events_topic"`
	KafkaTranscriptTopic       string `mapstructure:"kafka_transcript_topic"`
	KafkaDeadLetterTopic       string `mapstructure:"kafka_dead_letter_topic"`
	KafkaCallEventsGroupID     string `mapstructure:"kafka_call_events_group_id"`
	KafkaTranscriptGroupID     string `mapstructure:"kafka_transcript_group_id"`
	KafkaIntervalCB            uint32 `mapstructure:"kafka_interval_cb"`
	KafkaConsecutiveFailuresCB uint32 `mapstructure:"kafka_consecutive_failures_cb"`

	MinioEndpointURL            string `mapstructure:"minio_endpoint_url"`
	MinioAccessKey              string `mapstructure:"minio_access_key"`
	MinioSecretKey              string `mapstructure:"minio_secret_key"`
	MinioBucketName             string `mapstructure:"minio_bucket_name"`
	MinioUseSSL                 bool   `mapstructure:"minio_use_ssl"`
	MinioPathPrefix             string `mapstructure:"minio_path_prefix"`
	MinioMaxRetryAttempts       uint   `mapstructure:"minio_max_retry_attempts"`
	MinioRetryBackoffMinSeconds int    `mapstructure:"minio_retry_backoff_min_seconds"`
	MinioRetryBackoffMaxSeconds int    `mapstructure:"minio_retry_backoff_max_seconds"`
	MinioTimeout                int    `mapstructure:"minio_timeout"`
	MinioIntervalCB             uint32 `mapstructure:"minio_interval_cb"`
	MinioConsecutiveFailuresCB  uint32 `mapstructure:"minio_consecutive_failures_cb"`

	PoolSize            int `mapstructure:"pool_size"`
	TransitionRetryMax  int `mapstructure:"transition_retry_max"`
	StatsSampleInterval int `mapstructure:"stats_sample_interval"`

	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	HealthCheckerMonitorInterval int `mapstructure:"health_checker_monitor_interval"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

func init() {
	err := loadEnvConfig(&Conf)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("error", err.Error()))
	}
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	err = viper.Unmarshal(cfg)
	if err != nil {
		return err
	}

	err = validator.New().Struct(cfg)
	if err != nil {
		return err
	}

	return nil
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("STORE_BACKEND", "redis")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", "0")
	viper.SetDefault("REDIS_TIMEOUT", "5")
	viper.SetDefault("REDIS_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("REDIS_RETRY_BACKOFF_MIN", "1")
	viper.SetDefault("REDIS_RETRY_BACKOFF_MAX", "5")
	viper.SetDefault("REDIS_INTERVAL_CB", "30")
	viper.SetDefault("REDIS_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("SESSION_TTL_HOURS", "48")
	viper.SetDefault("OUTBOX_TTL_HOURS", "168")
	viper.SetDefault("RATE_LIMIT_WINDOW_HOURS", "24")
	viper.SetDefault("RATE_LIMIT_MAX_CALLS", "3")
	viper.SetDefault("WEBHOOK_TIMEOUT", "30")
	viper.SetDefault("WEBHOOK_MAX_RETRIES", "5")
	viper.SetDefault("WEBHOOK_BASE_DELAY", "60")
	viper.SetDefault("WEBHOOK_MAX_DELAY", "3600")
	viper.SetDefault("WEBHOOK_LEASE_TIMEOUT", "120")
	viper.SetDefault("DISPATCHER_POOL_SIZE", "4")
	viper.SetDefault("DISPATCHER_INTERVAL", "5")
	viper.SetDefault("DISPATCHER_BATCH_SIZE", "20")
	viper.SetDefault("ENQUEUE_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("GAP_THRESHOLD_MONTHS", "6")
	viper.SetDefault("GAP_LOOKBACK_YEARS", "35")
	viper.SetDefault("ADVERSARIAL_SHORT_WORD_MAX", "2")
	viper.SetDefault("ADVERSARIAL_SHORT_RATIO_WEIGHT", "3.0")
	viper.SetDefault("ADVERSARIAL_REFUSAL_WEIGHT", "2.0")
	viper.SetDefault("ADVERSARIAL_HOSTILE_WEIGHT", "3.0")
	viper.SetDefault("ADVERSARIAL_CONTRADICTION_WEIGHT", "3.0")
	viper.SetDefault("ADVERSARIAL_LATENCY_WEIGHT", "1.0")
	viper.SetDefault("ADVERSARIAL_LATENCY_THRESHOLD_MS", "4000")
	viper.SetDefault("CONFIDENCE_NAME_WEIGHT", "0.3")
	viper.SetDefault("CONFIDENCE_EMPLOYER_WEIGHT", "0.3")
	viper.SetDefault("CONFIDENCE_SKILL_WEIGHT", "0.2")
	viper.SetDefault("CONFIDENCE_CONSENT_WEIGHT", "0.2")
	viper.SetDefault("KAFKA_INTERVAL_CB", "30")
	viper.SetDefault("KAFKA_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("MINIO_MAX_RETRY_ATTEMPTS", "3")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MIN_SECONDS", "1")
	viper.SetDefault("MINIO_RETRY_BACKOFF_MAX_SECONDS", "10")
	viper.SetDefault("MINIO_TIMEOUT", "60")
	viper.SetDefault("MINIO_INTERVAL_CB", "300")
	viper.SetDefault("MINIO_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("POOL_SIZE", "10")
	viper.SetDefault("TRANSITION_RETRY_MAX", "3")
	viper.SetDefault("STATS_SAMPLE_INTERVAL", "30")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_FILE_PATH", "./access.log")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}
