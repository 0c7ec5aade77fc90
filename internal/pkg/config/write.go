package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigPath 默认配置文件路径（可执行文件旁的 config/config.yaml）
func DefaultConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("获取可执行文件路径失败: %w", err)
	}
	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, "config", "config.yaml"), nil
}

// WriteFile 将配置写回 YAML 文件（config init 命令用）
func WriteFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("cfg 不能为空")
	}
	if path == "" {
		return fmt.Errorf("path 不能为空")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	payload := map[string]any{
		"app": map[string]any{
			"name":      cfg.App.Name,
			"version":   cfg.App.Version,
			"log_level": cfg.App.LogLevel,
		},
		"storage": map[string]any{
			"db_path":      cfg.Storage.DBPath,
			"spool_dir":    cfg.Storage.SpoolDir,
			"handoff_path": cfg.Storage.HandoffPath,
		},
		"limits": map[string]any{
			"max_sessions":            cfg.Limits.MaxSessions,
			"max_tasks_per_session":   cfg.Limits.MaxTasksPerSession,
			"trials_per_task":         cfg.Limits.TrialsPerTask,
			"adhoc_tasks_per_session": cfg.Limits.AdhocTasksPerSession,
			"session_gap_days":        cfg.Limits.SessionGapDays,
		},
		"spool": map[string]any{
			"enabled":      cfg.Spool.Enabled,
			"debounce_sec": cfg.Spool.DebounceSec,
		},
	}

	data, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
