package task

import (
	"fmt"
	"sort"
)

// BalloonPalette 气球颜色枚举
var BalloonPalette = map[string]bool{
	"blue":   true,
	"red":    true,
	"green":  true,
	"yellow": true,
	"orange": true,
}

// paramRule 单个参数的校验规则
type paramRule struct {
	check func(v any) string // 返回空串表示通过
}

func positiveInt(v any) string {
	n, ok := asInt(v)
	if !ok {
		return "必须是整数"
	}
	if n <= 0 {
		return "必须是正整数"
	}
	return ""
}

func nonNegativeInt(v any) string {
	n, ok := asInt(v)
	if !ok {
		return "必须是整数"
	}
	if n < 0 {
		return "不能为负数"
	}
	return ""
}

func paletteColor(v any) string {
	s, ok := v.(string)
	if !ok || !BalloonPalette[s] {
		return "必须是枚举颜色之一 (blue/red/green/yellow/orange)"
	}
	return ""
}

// typeRules 每种任务类型允许覆盖的参数及其规则
var typeRules = map[Type]map[string]paramRule{
	TypeBart: {
		"max_pumps":       {check: positiveInt},
		"points_per_pump": {check: positiveInt},
		"balloon_color":   {check: paletteColor},
	},
	TypeIceFishing: {
		"max_fish":        {check: positiveInt},
		"points_per_fish": {check: positiveInt},
		"speed_min":       {check: positiveInt},
		"speed_max":       {check: positiveInt},
	},
	TypeMountainMining: {
		"max_depth":        {check: positiveInt},
		"points_per_level": {check: positiveInt},
		"collapse_min":     {check: positiveInt},
		"collapse_max":     {check: positiveInt},
	},
	TypeSpinningBottle: {
		"segments":   {check: positiveInt},
		"max_points": {check: positiveInt},
		"spin_cost":  {check: nonNegativeInt},
	},
}

// rangePairs 成对出现的 min/max 参数，要求 min < max
var rangePairs = map[Type][][2]string{
	TypeIceFishing:     {{"speed_min", "speed_max"}},
	TypeMountainMining: {{"collapse_min", "collapse_max"}},
}

// ValidateParams 按任务类型校验参数覆盖，返回全部问题（不止第一个）
func ValidateParams(t Type, params map[string]any) []string {
	if len(params) == 0 {
		return nil
	}
	rules, ok := typeRules[t]
	if !ok {
		return []string{fmt.Sprintf("未知任务类型 %q", t)}
	}

	var problems []string

	// 参数名按字典序遍历，保证报错顺序稳定
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rule, known := rules[k]
		if !known {
			problems = append(problems, fmt.Sprintf("任务 %s 不支持参数 %q", t, k))
			continue
		}
		if msg := rule.check(params[k]); msg != "" {
			problems = append(problems, fmt.Sprintf("任务 %s 参数 %q %s", t, k, msg))
		}
	}

	for _, pair := range rangePairs[t] {
		lo, hasLo := asIntKey(params, pair[0])
		hi, hasHi := asIntKey(params, pair[1])
		if hasLo != hasHi {
			problems = append(problems, fmt.Sprintf("任务 %s 参数 %q 与 %q 必须成对出现", t, pair[0], pair[1]))
			continue
		}
		if hasLo && hasHi && lo >= hi {
			problems = append(problems, fmt.Sprintf("任务 %s 参数 %q 必须小于 %q", t, pair[0], pair[1]))
		}
	}

	return problems
}

// asInt 将 JSON/YAML 解出的数值统一转成 int
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case float32:
		if n != float32(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asIntKey(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	n, ok := asInt(v)
	if !ok {
		return 0, false
	}
	return n, true
}
