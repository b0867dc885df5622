package notification

import (
	"fmt"
	"regexp"
)

// Template - шаблон заголовка и текста с плейсхолдерами вида {{key}}.
type Template struct {
	Title string
	Body  string
}

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Render подставляет значения из data. Неизвестные плейсхолдеры удаляются.
func (t Template) Render(data map[string]interface{}) (title, body string) {
	return renderPlaceholders(t.Title, data), renderPlaceholders(t.Body, data)
}

func renderPlaceholders(tmpl string, data map[string]interface{}) string {
	return placeholderRegex.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderRegex.FindStringSubmatch(match)[1]
		v, ok := data[key]
		if !ok || v == nil {
			return ""
		}
		switch val := v.(type) {
		case string:
			return val
		case fmt.Stringer:
			return val.String()
		default:
			return fmt.Sprintf("%v", val)
		}
	})
}

// DefaultTemplates возвращает встроенные шаблоны для каждого типа уведомлений.
func DefaultTemplates() map[NotificationType]Template {
	return map[NotificationType]Template{
		TypeTaskReminder: {
			Title: "Reminder: {{task_title}}",
			Body:  "Your task \"{{task_title}}\" is due {{due_at}}.",
		},
		TypeTaskOverdue: {
			Title: "Overdue: {{task_title}}",
			Body:  "Your task \"{{task_title}}\" is past its due date ({{due_at}}).",
		},
		TypeGoalMilestone: {
			Title: "{{goal_title}}: {{percent}}% done",
			Body:  "You have reached {{percent}}% of your goal \"{{goal_title}}\". Keep going!",
		},
		TypeGoalCompleted: {
			Title: "Goal completed: {{goal_title}}",
			Body:  "Congratulations, you have completed \"{{goal_title}}\".",
		},
		TypeSystemAlert: {
			Title: "{{title}}",
			Body:  "{{message}}",
		},
		TypeSystemAnnouncement: {
			Title: "{{title}}",
			Body:  "{{message}}",
		},
	}
}
