package executor

import "asterism/backend/go/internal/models"

// IndependentTasks 返回依赖已全部完成且自身尚未完成的任务，保持输入顺序。
func IndependentTasks(remaining []models.Task, completed map[string]bool) []models.Task {
	var out []models.Task
	for _, t := range remaining {
		if completed[t.ID] {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, t)
		}
	}
	return out
}

// IsLinear 判断计划是否为一条链：第一个任务无依赖，其后每个任务恰好依赖前一个。
func IsLinear(plan *models.Plan) bool {
	if plan == nil || len(plan.Tasks) == 0 {
		return false
	}
	if len(plan.Tasks[0].DependsOn) != 0 {
		return false
	}
	for i := 1; i < len(plan.Tasks); i++ {
		deps := plan.Tasks[i].DependsOn
		if len(deps) != 1 || deps[0] != plan.Tasks[i-1].ID {
			return false
		}
	}
	return true
}

// ValidatePlan 检查重复的任务ID以及指向计划外任务的依赖。
func ValidatePlan(plan *models.Plan) error {
	if plan == nil {
		return nil
	}
	ids := make(map[string]int, len(plan.Tasks))
	for _, t := range plan.Tasks {
		ids[t.ID]++
	}

	unmet := make(map[string][]string)
	for _, t := range plan.Tasks {
		if ids[t.ID] > 1 {
			unmet[t.ID] = appendUnique(unmet[t.ID], t.ID)
		}
		for _, dep := range t.DependsOn {
			if _, ok := ids[dep]; !ok || dep == t.ID {
				unmet[t.ID] = appendUnique(unmet[t.ID], dep)
			}
		}
	}
	if len(unmet) == 0 {
		return nil
	}
	return &models.DependencyError{Unmet: unmet}
}

// blockedTasks 找出依赖永远无法满足的剩余任务（依赖失败或处于阻塞链上）。
func blockedTasks(remaining []models.Task, completed map[string]bool) *models.DependencyError {
	unmet := make(map[string][]string)
	for _, t := range remaining {
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				unmet[t.ID] = append(unmet[t.ID], dep)
			}
		}
	}
	if len(unmet) == 0 {
		return nil
	}
	return &models.DependencyError{Unmet: unmet}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
