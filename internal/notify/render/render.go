// Package render substitutes notification data into template strings.
// Rendering is pure and never aborts a send: any parse or execution error is
// logged and the original template string is returned unchanged.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
)

type Renderer struct {
	logger logger.Logger
	funcs  template.FuncMap
}

func New(log logger.Logger) *Renderer {
	return &Renderer{
		logger: log.WithFields(map[string]interface{}{"component": "renderer"}),
		funcs:  helperFuncs(),
	}
}

// Render substitutes data fields into tmpl. On failure the raw template is
// returned so the caller always has content to deliver.
func (r *Renderer) Render(tmpl string, data map[string]interface{}) string {
	t, err := template.New("notification").Funcs(r.funcs).Parse(tmpl)
	if err != nil {
		r.logger.Error("template parse failed, using raw template", map[string]interface{}{
			"error": err.Error(),
		})
		return tmpl
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		r.logger.Error("template execution failed, using raw template", map[string]interface{}{
			"error": err.Error(),
		})
		return tmpl
	}

	return sb.String()
}

// RenderMessage renders all three parts of a resolved template.
func (r *Renderer) RenderMessage(tpl *models.Template, data map[string]interface{}) *models.RenderedMessage {
	return &models.RenderedMessage{
		Subject: r.Render(tpl.Subject, data),
		HTML:    r.Render(tpl.HTML, data),
		Text:    r.Render(tpl.Text, data),
	}
}

// helperFuncs is the comparison helper set available inside template
// expressions. The numeric helpers coerce both sides to float64 so JSON
// payload numbers compare against literals without type errors.
func helperFuncs() template.FuncMap {
	return template.FuncMap{
		"eq": func(a, b interface{}) bool {
			if af, aok := toFloat(a); aok {
				if bf, bok := toFloat(b); bok {
					return af == bf
				}
			}
			return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
		},
		"ne": func(a, b interface{}) bool {
			if af, aok := toFloat(a); aok {
				if bf, bok := toFloat(b); bok {
					return af != bf
				}
			}
			return fmt.Sprintf("%v", a) != fmt.Sprintf("%v", b)
		},
		"gt":  func(a, b interface{}) bool { return compare(a, b) > 0 },
		"lt":  func(a, b interface{}) bool { return compare(a, b) < 0 },
		"gte": func(a, b interface{}) bool { return compare(a, b) >= 0 },
		"lte": func(a, b interface{}) bool { return compare(a, b) <= 0 },
		"and": func(vals ...interface{}) bool {
			for _, v := range vals {
				if !truthy(v) {
					return false
				}
			}
			return true
		},
		"or": func(vals ...interface{}) bool {
			for _, v := range vals {
				if truthy(v) {
					return true
				}
			}
			return false
		},
	}
}

func compare(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}
