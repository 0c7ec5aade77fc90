package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PsychLayne/RiskTakingSuite/internal/service"
	"github.com/fsnotify/fsnotify"
)

// Watcher 试次回传文件监控器
// 小游戏进程把试次结果写成 spool 目录下的 JSON 批次文件，
// 监控器防抖后解析并通过 RecordTrial 回写；处理成功的文件
// 改名 .done，失败改名 .err，绝不重复摄入。
type Watcher struct {
	watcher     *fsnotify.Watcher
	dir         string
	sessions    *service.SessionService
	stopChan    chan struct{}
	stopOnce    sync.Once
	mu          sync.Mutex
	debounceMap map[string]time.Time // 防抖：file -> 最后一次写事件
	debounceDur time.Duration
}

// Config 监控器配置
type Config struct {
	Dir         string // spool 目录
	DebounceSec int    // 防抖时间（秒）
}

// Batch 单个回传文件的内容：一个会话内若干试次
type Batch struct {
	SessionID int64   `json:"session_id"`
	Trials    []Trial `json:"trials"`
}

// Trial 回传文件里的单条试次
type Trial struct {
	TaskType    string         `json:"task_type"`
	TrialNumber int            `json:"trial_number"`
	RiskLevel   float64        `json:"risk_level"`
	Points      int            `json:"points"`
	Outcome     string         `json:"outcome"`
	ReactionMs  *float64       `json:"reaction_ms,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NewWatcher 创建监控器
func NewWatcher(cfg Config, sessions *service.SessionService) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool 目录不能为空")
	}
	if cfg.DebounceSec <= 0 {
		cfg.DebounceSec = 1
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建 spool 目录失败: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}
	if err := fw.Add(cfg.Dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("监控 spool 目录失败: %w", err)
	}

	return &Watcher{
		watcher:     fw,
		dir:         cfg.Dir,
		sessions:    sessions,
		stopChan:    make(chan struct{}),
		debounceMap: make(map[string]time.Time),
		debounceDur: time.Duration(cfg.DebounceSec) * time.Second,
	}, nil
}

// Start 启动监控循环（阻塞，通常放在独立 goroutine）
func (w *Watcher) Start(ctx context.Context) {
	// 启动时先摄入已经躺在目录里的文件
	w.ingestExisting(ctx)

	ticker := time.NewTicker(w.debounceDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			w.mu.Lock()
			w.debounceMap[event.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("spool 监控错误", "error", err)
		case <-ticker.C:
			w.flushDue(ctx)
		}
	}
}

// Stop 停止监控
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		_ = w.watcher.Close()
	})
}

// ingestExisting 摄入目录里既有的批次文件
func (w *Watcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("读取 spool 目录失败", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.dir, e.Name()))
	}
}

// flushDue 处理防抖到期的文件
func (w *Watcher) flushDue(ctx context.Context) {
	now := time.Now()
	var due []string
	w.mu.Lock()
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.debounceDur {
			due = append(due, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		w.ingestFile(ctx, path)
	}
}

// ingestFile 解析并摄入单个批次文件
func (w *Watcher) ingestFile(ctx context.Context, path string) {
	count, err := IngestFile(ctx, path, w.sessions)
	if err != nil {
		slog.Error("摄入批次文件失败", "path", path, "error", err)
		_ = os.Rename(path, path+".err")
		return
	}
	slog.Info("批次文件已摄入", "path", path, "trials", count)
	_ = os.Rename(path, path+".done")
}

// IngestFile 解析批次文件并逐条回写试次，返回写入条数
// 独立成包级函数，研究端命令行也可以直接对单个文件调用。
func IngestFile(ctx context.Context, path string, sessions *service.SessionService) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取批次文件失败: %w", err)
	}

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return 0, fmt.Errorf("解析批次文件失败: %w", err)
	}
	if batch.SessionID <= 0 {
		return 0, fmt.Errorf("批次文件缺少 session_id")
	}

	for i, t := range batch.Trials {
		_, err := sessions.RecordTrial(ctx, service.RecordTrialInput{
			SessionID:   batch.SessionID,
			TaskType:    t.TaskType,
			TrialNumber: t.TrialNumber,
			RiskLevel:   t.RiskLevel,
			Points:      t.Points,
			Outcome:     t.Outcome,
			ReactionMs:  t.ReactionMs,
			Extra:       t.Extra,
		})
		if err != nil {
			return i, fmt.Errorf("第 %d 条试次写入失败: %w", i+1, err)
		}
	}
	return len(batch.Trials), nil
}
