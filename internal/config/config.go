package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	PostgresURI    string         `mapstructure:"postgres_uri"`
	MongodbURI     string         `mapstructure:"mongodb_uri"`
	LogLevel       string         `mapstructure:"log_level"`
	TaxonomiesPath string         `mapstructure:"taxonomies_path"`
	Temporal       TemporalConfig `mapstructure:"temporal"`
	Timeout        TimeoutConfig  `mapstructure:"timeout"`
	Datasets       DatasetsConfig `mapstructure:"datasets"`
	Server         ServerConfig   `mapstructure:"server"`
	Redis          RedisConfig    `mapstructure:"redis"`
	Auth           AuthConfig     `mapstructure:"auth"`
	Sidecar        SidecarConfig  `mapstructure:"sidecar"`
}

// TemporalConfig Temporal 配置
type TemporalConfig struct {
	Host                           string `mapstructure:"host"`
	Port                           int    `mapstructure:"port"`
	Namespace                      string `mapstructure:"namespace"`
	TaskQueue                      string `mapstructure:"task_queue"`
	MaxWorkers                     int    `mapstructure:"max_workers"`
	MaxConcurrentActivities        int    `mapstructure:"max_concurrent_activities"`
	MaxConcurrentWorkflowTasks     int    `mapstructure:"max_concurrent_workflow_tasks"`
	MaxConcurrentWorkflowTaskPolls int    `mapstructure:"max_concurrent_workflow_task_polls"`
	MaxConcurrentActivityTaskPolls int    `mapstructure:"max_concurrent_activity_task_polls"`
	MaxChildStarts                 int    `mapstructure:"max_child_starts"`

	ManagerResultAnalyzer ManagerResultAnalyzerConfig `mapstructure:"manager_result_analyzer"`
	Schedules             SchedulesConfig             `mapstructure:"schedules"`
}

// ManagerResultAnalyzerConfig manager 结果分析工作流
type ManagerResultAnalyzerConfig struct {
	WorkflowName string `mapstructure:"workflow_name"`
	TaskQueue    string `mapstructure:"task_queue"`
}

// SchedulesConfig 定时调度间隔，空字符串表示不创建
type SchedulesConfig struct {
	LookupTasks   string `mapstructure:"lookup_tasks"`
	SummaryLookup string `mapstructure:"summary_lookup"`
}

// TimeoutConfig 请求超时模型
type TimeoutConfig struct {
	// TTFT 为 [prompt_len, ttft_seconds] 采样点
	TTFT  [][]float64 `mapstructure:"ttft"`
	TPOT  float64     `mapstructure:"tpot"`
	Queue float64     `mapstructure:"queue"`
}

// DatasetsConfig 数据集下载配置
type DatasetsConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	PageSize int    `mapstructure:"page_size"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// RedisConfig Redis配置，Addr 为空时不启用缓存
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"`
}

// AuthConfig 认证配置，JWTSecret 为空时不校验
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SidecarConfig sidecar 文件目录
type SidecarConfig struct {
	TokenizerPath string `mapstructure:"tokenizer_path"`
	ConfigPath    string `mapstructure:"config_path"`
}

// ErrNoConfigPath CONFIG_PATH 未设置
var ErrNoConfigPath = errors.New("CONFIG_PATH is not set")

var globalConfig *Config

// Load 加载配置。path 为空时返回仅含默认值的配置和 ErrNoConfigPath，
// 调用方记录错误后可以继续运行。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	var loadErr error
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		loadErr = ErrNoConfigPath
	}

	// 环境变量
	v.SetEnvPrefix("TESTBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, loadErr
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// GetHostPort 获取 Temporal 地址
func (c *TemporalConfig) GetHostPort() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled 是否配置了 Redis
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_uri", "postgresql://localhost:5432")
	v.SetDefault("mongodb_uri", "mongodb://localhost:27017")
	v.SetDefault("log_level", "ERROR")
	v.SetDefault("taxonomies_path", "")

	// Temporal
	v.SetDefault("temporal.host", "localhost")
	v.SetDefault("temporal.port", 7233)
	v.SetDefault("temporal.namespace", "pocket-ml-testbench")
	v.SetDefault("temporal.task_queue", "")
	v.SetDefault("temporal.max_workers", 10)
	v.SetDefault("temporal.max_concurrent_activities", 10)
	v.SetDefault("temporal.max_concurrent_workflow_tasks", 10)
	v.SetDefault("temporal.max_concurrent_workflow_task_polls", 2)
	v.SetDefault("temporal.max_concurrent_activity_task_polls", 2)
	v.SetDefault("temporal.max_child_starts", 32)
	v.SetDefault("temporal.manager_result_analyzer.workflow_name", "Manager-ResultAnalyzer")
	v.SetDefault("temporal.manager_result_analyzer.task_queue", "manager")
	v.SetDefault("temporal.schedules.lookup_tasks", "")
	v.SetDefault("temporal.schedules.summary_lookup", "")

	// Timeout
	v.SetDefault("timeout.tpot", 0.0)
	v.SetDefault("timeout.queue", 0.0)

	// Datasets
	v.SetDefault("datasets.base_url", "https://datasets-server.huggingface.co")
	v.SetDefault("datasets.page_size", 100)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 60)
}
