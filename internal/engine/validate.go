package engine

import (
	"fmt"

	"github.com/shaiso/Konveyer/internal/domain"
)

// Допустимые типы задач.
var validTaskTypes = map[string]bool{
	"http":      true,
	"delay":     true,
	"transform": true,
}

// Validate выполняет полную структурную валидацию DagSpec.
//
// Проверяет:
// - Наличие задач
// - Уникальность task_id
// - Корректность типов задач и trigger rules
// - Валидность зависимостей (depends_on)
// - Уникальность имён extra links
//
// Отсутствие циклов проверяется при построении графа (BuildGraph).
func Validate(spec *domain.DagSpec) error {
	if spec == nil || len(spec.Tasks) == 0 {
		return ErrEmptyTasks
	}

	taskIDs := make(map[string]bool, len(spec.Tasks))

	for i := range spec.Tasks {
		task := &spec.Tasks[i]

		if err := validateTask(task, taskIDs); err != nil {
			return err
		}
	}

	// Зависимости валидируются после сбора всех ID
	for i := range spec.Tasks {
		task := &spec.Tasks[i]
		for _, dep := range task.DependsOn {
			if !taskIDs[dep] {
				return NewValidationError(task.TaskID, "depends_on",
					fmt.Sprintf("depends on unknown task: %s", dep), ErrMissingDependency)
			}
		}
	}

	return nil
}

// validateTask валидирует одну задачу.
// taskIDs — уже встреченные task_id (для проверки уникальности).
func validateTask(task *domain.TaskDef, taskIDs map[string]bool) error {
	if task.TaskID == "" {
		return NewValidationError("", "task_id", "task has empty task_id", ErrEmptyTaskID)
	}

	if taskIDs[task.TaskID] {
		return NewValidationError(task.TaskID, "task_id",
			fmt.Sprintf("duplicate task_id: %s", task.TaskID), ErrDuplicateTaskID)
	}
	taskIDs[task.TaskID] = true

	if task.Type == "" || !validTaskTypes[task.Type] {
		return NewValidationError(task.TaskID, "type",
			fmt.Sprintf("unknown task type: %q", task.Type), ErrUnknownTaskType)
	}

	if task.TriggerRule != "" && !task.TriggerRule.IsValid() {
		return NewValidationError(task.TaskID, "trigger_rule",
			fmt.Sprintf("unknown trigger rule: %q", task.TriggerRule), ErrUnknownTriggerRule)
	}

	for _, dep := range task.DependsOn {
		if dep == task.TaskID {
			return NewValidationError(task.TaskID, "depends_on",
				"task depends on itself", ErrSelfDependency)
		}
	}

	linkNames := make(map[string]bool, len(task.ExtraLinks))
	for _, link := range task.ExtraLinks {
		if linkNames[link.Name] {
			return NewValidationError(task.TaskID, "extra_links",
				fmt.Sprintf("duplicate extra link name: %s", link.Name), ErrDuplicateLinkName)
		}
		linkNames[link.Name] = true
	}

	return nil
}

// IsValidTaskType проверяет, является ли тип задачи допустимым.
func IsValidTaskType(taskType string) bool {
	return validTaskTypes[taskType]
}

// ValidTaskTypes возвращает список допустимых типов задач.
func ValidTaskTypes() []string {
	types := make([]string, 0, len(validTaskTypes))
	for t := range validTaskTypes {
		types = append(types, t)
	}
	return types
}
