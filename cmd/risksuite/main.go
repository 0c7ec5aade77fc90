package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/PsychLayne/RiskTakingSuite/internal/bootstrap"
	"github.com/PsychLayne/RiskTakingSuite/internal/httpapi"
	"github.com/PsychLayne/RiskTakingSuite/internal/pkg/buildinfo"
	"github.com/PsychLayne/RiskTakingSuite/internal/pkg/config"
	"github.com/PsychLayne/RiskTakingSuite/internal/schema"
	"github.com/PsychLayne/RiskTakingSuite/internal/service"
	"github.com/PsychLayne/RiskTakingSuite/internal/spool"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	core    *bootstrap.Core
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "risksuite",
		Version: buildinfo.Version,
		Short:   "RiskSuite - 风险决策行为研究的实验与会话管理引擎",
		Long: `RiskSuite 管理风险决策研究的实验模板、参与者报名、
会话与任务分配，并接收小游戏回传的试次记录。`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			core, err = bootstrap.NewCore(cfgFile)
			if err != nil {
				slog.Error("初始化失败", "error", err)
				os.Exit(1)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				_ = core.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	rootCmd.AddCommand(experimentCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(trialCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// experimentCmd 实验模板管理命令
func experimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "实验模板管理",
	}

	var file, code string
	importCmd := &cobra.Command{
		Use:     "import",
		Aliases: []string{"create"},
		Short:   "从 YAML 模板创建实验",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("读取模板文件失败: %w", err)
			}
			exp, err := core.Services.Templates.Import(cmd.Context(), data, code)
			if err != nil {
				return err
			}
			fmt.Printf("实验已创建: %s (%s)\n", exp.Code, exp.Name)
			return nil
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "模板 YAML 文件")
	importCmd.Flags().StringVar(&code, "code", "", "覆盖模板内的实验代码")
	_ = importCmd.MarkFlagRequired("file")

	exportCmd := &cobra.Command{
		Use:   "export <code>",
		Short: "导出实验模板为 YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := core.Services.Templates.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	duplicateCmd := &cobra.Command{
		Use:   "duplicate <code>",
		Short: "复制实验配置到新实验",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := core.Services.Templates.Duplicate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("实验已复制: %s → %s\n", args[0], exp.Code)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出全部实验",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := core.Services.Stats.Experiments(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range stats {
				state := "启用"
				if !s.Active {
					state = "停用"
				}
				fmt.Printf("%-8s %-24s %s  报名 %d  完成 %d\n", s.Code, s.Name, state, s.Enrolled, s.Completed)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <code>",
		Short: "查看实验配置",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := core.Services.Experiments.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n会话数: %d  随机顺序: %v  间隔天数: %d\n",
				exp.Code, exp.Name, exp.NumSessions, exp.RandomizeOrder, exp.SessionGapDays)
			for _, st := range exp.SessionTemplates {
				fmt.Printf("  会话 %d (%d 个任务):\n", st.Ordinal, st.TaskCount)
				for _, tt := range st.TaskTemplates {
					fmt.Printf("    %d. %s", tt.Position, tt.TaskType)
					if tt.InstanceKey != "" {
						fmt.Printf("#%s", tt.InstanceKey)
					}
					if len(tt.Params) > 0 {
						fmt.Printf("  %v", map[string]any(tt.Params))
					}
					fmt.Println()
				}
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <code>",
		Short: "级联删除实验及其全部数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return core.Services.Experiments.Delete(cmd.Context(), args[0])
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate <code>",
		Short: "停用实验（不再接受报名）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return core.Services.Experiments.SetActive(cmd.Context(), args[0], false)
		},
	}

	cmd.AddCommand(importCmd, exportCmd, duplicateCmd, listCmd, showCmd, deleteCmd, deactivateCmd)
	return cmd
}

// participantCmd 参与者管理命令
func participantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participant",
		Short: "参与者管理",
	}

	var age int
	var gender string
	addCmd := &cobra.Command{
		Use:   "add <code>",
		Short: "登记参与者",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &schema.Participant{Code: args[0], Age: age, Gender: gender}
			if err := core.Repos.Participant.Create(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Printf("参与者已登记: %s\n", p.Code)
			return nil
		},
	}
	addCmd.Flags().IntVar(&age, "age", 0, "年龄")
	addCmd.Flags().StringVar(&gender, "gender", "", "性别")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出全部参与者",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := core.Repos.Participant.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range ps {
				fmt.Printf("%-10s", p.Code)
				if p.ExperimentID != nil {
					fmt.Printf("  实验 #%d", *p.ExperimentID)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

// enrollCmd 报名命令
func enrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <participant> <experiment-code>",
		Short: "将参与者报名到实验（自动创建第一个会话）",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := core.Services.Enrollments.Enroll(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("报名成功: %s → %s\n", args[0], args[1])
			return nil
		},
	}
}

// sessionCmd 会话生命周期命令
func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "会话管理",
	}

	startCmd := &cobra.Command{
		Use:   "start <participant>",
		Short: "开始或恢复参与者的会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := core.Services.Sessions.StartOrResume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("会话 #%d (第 %d 次)  任务: %v\n", s.ID, s.Ordinal, []string(s.TaskTypes))
			return nil
		},
	}

	var force bool
	completeCmd := &cobra.Command{
		Use:   "complete <session-id>",
		Short: "完成会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("无效的会话 ID: %q", args[0])
			}
			return core.Services.Sessions.CompleteSession(cmd.Context(), id, force)
		},
	}
	completeCmd.Flags().BoolVar(&force, "force", false, "跳过试次数检查强制完成")

	eligibilityCmd := &cobra.Command{
		Use:   "eligibility <participant>",
		Short: "查询参与者能否开始下一个会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			elig, err := core.Services.Sessions.CanStartNextSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if elig.Allowed {
				fmt.Println("可以开始下一个会话")
			} else {
				fmt.Printf("暂不可以: %s\n", elig.Reason)
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <participant>",
		Short: "查看参与者全部会话的摘要",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := core.Services.Stats.ParticipantSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Printf("会话 %d  %-9s  任务 %v  得分 %d\n", s.Ordinal, s.Status, s.Tasks, s.TotalPoints)
			}
			return nil
		},
	}

	handoffCmd := &cobra.Command{
		Use:   "handoff <session-id> <task-type>",
		Short: "为小游戏写出参数交接文件",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("无效的会话 ID: %q", args[0])
			}
			path, err := core.Services.Handoff.Write(cmd.Context(), id, args[1], core.Cfg.Storage.HandoffPath)
			if err != nil {
				return err
			}
			fmt.Printf("交接文件已写出: %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(startCmd, completeCmd, eligibilityCmd, statusCmd, handoffCmd)
	return cmd
}

// trialCmd 试次回传命令
func trialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trial",
		Short: "试次记录管理",
	}

	var (
		sessionID int64
		taskType  string
		risk      float64
		points    int
		outcome   string
	)
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "手工补录一条试次",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := core.Services.Sessions.RecordTrial(cmd.Context(), service.RecordTrialInput{
				SessionID: sessionID,
				TaskType:  taskType,
				RiskLevel: risk,
				Points:    points,
				Outcome:   outcome,
			})
			if err != nil {
				return err
			}
			fmt.Printf("试次已写入: %s #%d\n", rec.TaskType, rec.TrialNumber)
			return nil
		},
	}
	recordCmd.Flags().Int64Var(&sessionID, "session", 0, "会话 ID")
	recordCmd.Flags().StringVar(&taskType, "task", "", "任务类型")
	recordCmd.Flags().Float64Var(&risk, "risk", 0, "风险水平 [0,1]")
	recordCmd.Flags().IntVar(&points, "points", 0, "得分")
	recordCmd.Flags().StringVar(&outcome, "outcome", "", "结果标签")
	_ = recordCmd.MarkFlagRequired("session")
	_ = recordCmd.MarkFlagRequired("task")
	_ = recordCmd.MarkFlagRequired("outcome")

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "摄入小游戏回传的试次批次文件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := spool.IngestFile(cmd.Context(), args[0], core.Services.Sessions)
			if err != nil {
				return err
			}
			fmt.Printf("已写入 %d 条试次\n", n)
			return nil
		},
	}

	cmd.AddCommand(recordCmd, ingestCmd)
	return cmd
}

// statsCmd 统计命令
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "任务分配统计",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := core.Services.Stats.TaskUsage(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range stats {
				fmt.Printf("%-18s %d\n", s.TaskType, s.UseCount)
			}
			return nil
		},
	}
}

// configCmd 配置文件管理
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "配置管理",
	}

	var out string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "把当前生效的配置写成 YAML 文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := out
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}
			if err := config.WriteFile(path, core.Cfg); err != nil {
				return err
			}
			fmt.Printf("配置已写出: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&out, "out", "o", "", "输出路径（默认可执行文件旁的 config/config.yaml）")

	cmd.AddCommand(initCmd)
	return cmd
}

// serveCmd 启动本地 API 与 spool 监控
func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动本地 API（供窗口化 UI 使用）与试次回传监控",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ls, err := httpapi.Start(ctx, core, httpapi.Options{ListenAddr: listen})
			if err != nil {
				return err
			}
			fmt.Printf("本地 API: %s\n", ls.BaseURL())

			if core.Cfg.Spool.Enabled {
				w, err := spool.NewWatcher(spool.Config{
					Dir:         core.Cfg.Storage.SpoolDir,
					DebounceSec: core.Cfg.Spool.DebounceSec,
				}, core.Services.Sessions)
				if err != nil {
					return err
				}
				defer w.Stop()
				go w.Start(ctx)
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "监听地址")
	return cmd
}
