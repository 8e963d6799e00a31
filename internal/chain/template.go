package chain

import (
	"regexp"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

// placeholder matches ${input}, ${variables.K}, and ${steps.ID.output}
// (spec §4.5). regexp is the standard library's correct tool here: the
// substitution grammar is three fixed shapes, not a general template
// language, so no third-party templating engine earns its dependency
// weight over a single compiled pattern.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// renderContext carries everything a template placeholder can reference.
type renderContext struct {
	Input     string
	Variables map[string]string
	Steps     map[string]string // step id -> output
}

// render substitutes every placeholder in tmpl, returning a TemplateError
// if a placeholder references an unknown variable or step.
func render(tmpl string, ctx renderContext) (string, error) {
	var renderErr error
	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		if renderErr != nil {
			return ""
		}
		key := placeholder.FindStringSubmatch(match)[1]
		val, err := resolve(key, ctx)
		if err != nil {
			renderErr = err
			return ""
		}
		return val
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func resolve(key string, ctx renderContext) (string, error) {
	switch {
	case key == "input":
		return ctx.Input, nil
	case len(key) > len("variables.") && key[:len("variables.")] == "variables.":
		name := key[len("variables."):]
		v, ok := ctx.Variables[name]
		if !ok {
			return "", apierr.Newf(apierr.TemplateError, "unknown variable %q", name)
		}
		return v, nil
	case len(key) > len("steps.") && key[:len("steps.")] == "steps.":
		rest := key[len("steps."):]
		id, suffix := splitStepRef(rest)
		if suffix != "output" {
			return "", apierr.Newf(apierr.TemplateError, "unsupported step reference %q", key)
		}
		v, ok := ctx.Steps[id]
		if !ok {
			return "", apierr.Newf(apierr.TemplateError, "unknown step %q referenced before completion", id)
		}
		return v, nil
	default:
		return "", apierr.Newf(apierr.TemplateError, "unknown placeholder %q", key)
	}
}

func splitStepRef(s string) (id, suffix string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
