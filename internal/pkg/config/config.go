package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/PsychLayne/RiskTakingSuite/internal/pkg/buildinfo"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Spool   SpoolConfig   `mapstructure:"spool"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath      string `mapstructure:"db_path"`
	SpoolDir    string `mapstructure:"spool_dir"`    // 小游戏试次回传目录
	HandoffPath string `mapstructure:"handoff_path"` // 小游戏参数交接文件
}

// LimitsConfig 引擎边界配置
// 观测产品写死 2 会话 / 4 任务，这里全部可配，超界报错不截断。
type LimitsConfig struct {
	MaxSessions          int `mapstructure:"max_sessions"`
	MaxTasksPerSession   int `mapstructure:"max_tasks_per_session"`
	TrialsPerTask        int `mapstructure:"trials_per_task"`
	AdhocTasksPerSession int `mapstructure:"adhoc_tasks_per_session"`
	SessionGapDays       int `mapstructure:"session_gap_days"`
}

// SpoolConfig 回传监控配置
type SpoolConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	DebounceSec int  `mapstructure:"debounce_sec"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量
	v.SetEnvPrefix("RISKSUITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 处理相对路径
	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	cfg.Storage.SpoolDir = resolvePath(cfg.Storage.SpoolDir)
	cfg.Storage.HandoffPath = resolvePath(cfg.Storage.HandoffPath)

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "risksuite")
	v.SetDefault("app.version", buildinfo.Version)
	v.SetDefault("app.log_level", "info")

	// Storage
	v.SetDefault("storage.db_path", "./data/risksuite.db")
	v.SetDefault("storage.spool_dir", "./data/spool")
	v.SetDefault("storage.handoff_path", "./data/handoff.yaml")

	// Limits
	v.SetDefault("limits.max_sessions", 2)
	v.SetDefault("limits.max_tasks_per_session", 4)
	v.SetDefault("limits.trials_per_task", 10)
	v.SetDefault("limits.adhoc_tasks_per_session", 2)
	v.SetDefault("limits.session_gap_days", 0)

	// Spool
	v.SetDefault("spool.enabled", true)
	v.SetDefault("spool.debounce_sec", 1)
}

// resolvePath 解析相对路径为绝对路径
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	// 获取可执行文件目录
	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}

// SetupLogger 根据配置设置日志级别
func SetupLogger(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
