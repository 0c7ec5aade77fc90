package repository

import "errors"

// ErrDuplicate 违反唯一性约束（实验代码重复、重复报名、会话序号冲突等）。
// 调用方用 errors.Is 识别，不做重试。
var ErrDuplicate = errors.New("违反唯一性约束")
