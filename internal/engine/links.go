package engine

import (
	"fmt"
	"net/url"

	"github.com/shaiso/Konveyer/internal/domain"
)

// LinkContext — контекст рендеринга extra link.
//
// Дополняет контекст run идентичностью конкретного task instance.
type LinkContext struct {
	*Context

	// TaskID — задача, которой принадлежит ссылка.
	TaskID string

	// TryNumber — номер последней попытки instance.
	TryNumber int
}

// ResolveExtraLink лениво рендерит именованную внешнюю ссылку задачи.
//
// Возвращает ErrLinkNotFound, если ссылка не определена в TaskDef.
// Ошибки рендеринга и невалидный результат поднимаются как есть —
// вызывающая сторона отдаёт их клиенту в error payload.
func ResolveExtraLink(task *domain.TaskDef, name string, ctx *LinkContext) (string, error) {
	var def *domain.ExtraLinkDef
	for i := range task.ExtraLinks {
		if task.ExtraLinks[i].Name == name {
			def = &task.ExtraLinks[i]
			break
		}
	}
	if def == nil {
		return "", fmt.Errorf("%w: %s", ErrLinkNotFound, name)
	}

	rendered, err := renderWith(def.URLTemplate, ctx)
	if err != nil {
		return "", err
	}

	// Ссылка должна быть абсолютным URL
	u, err := url.Parse(rendered)
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("%w: link %q resolved to invalid url %q", ErrTemplateRender, name, rendered)
	}

	return rendered, nil
}

// LinkNames возвращает имена всех extra links задачи.
func LinkNames(task *domain.TaskDef) []string {
	names := make([]string, 0, len(task.ExtraLinks))
	for _, l := range task.ExtraLinks {
		names = append(names, l.Name)
	}
	return names
}
