package service

import (
	"errors"
	"strings"

	"github.com/PsychLayne/RiskTakingSuite/internal/repository"
)

// 领域错误分类。约束冲突直接复用仓储层的哨兵错误，
// 调用方统一用 errors.Is / errors.As 识别。
var (
	// ErrNotFound 实验/参与者/会话不存在
	ErrNotFound = errors.New("对象不存在")

	// ErrConstraintViolation 唯一性冲突（重复代码、重复报名、序号冲突）
	ErrConstraintViolation = repository.ErrDuplicate

	// ErrInsufficientDistinctTasks 候选任务池不足，属于模板配置问题，
	// 绝不静默重复或截断
	ErrInsufficientDistinctTasks = errors.New("可用的不同任务数量不足")

	// ErrUnknownTaskType 模板引用了封闭集合之外的任务标签
	ErrUnknownTaskType = errors.New("未知任务类型")

	// ErrExperimentClosed 实验已停用或不在报名窗口内
	ErrExperimentClosed = errors.New("实验未开放报名")
)

// ValidationError 模板/输入校验失败
// 一次返回全部问题，调用方可整体展示，避免“改一个、再报一个”。
type ValidationError struct {
	Problems []string
}

// Error 实现 error 接口
func (e *ValidationError) Error() string {
	return "配置校验失败: " + strings.Join(e.Problems, "; ")
}

// AsValidationError 提取校验错误（不是则返回 nil）
func AsValidationError(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}
