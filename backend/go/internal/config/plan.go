package config

import (
	"asterism/backend/go/internal/models"
	"fmt"
	"os"
)

// LoadPlan 读取 YAML 或 JSON 格式的执行计划，tool_input 中的 env. 引用同样会被替换。
func LoadPlan(path string) (*models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取计划文件 '%s': %w", path, err)
	}
	var plan models.Plan
	if err := decodeWithEnv(data, &plan); err != nil {
		return nil, fmt.Errorf("解析计划文件 '%s' 失败: %w", path, err)
	}
	return &plan, nil
}
