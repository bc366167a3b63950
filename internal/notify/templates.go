package notify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// FallbackLanguage is used when a clinic's language has no template.
const FallbackLanguage = "en"

//go:embed templates.yaml
var defaultCatalogue []byte

// TemplateData is the set of fields a template may reference.
type TemplateData struct {
	Position     int
	SkipCount    int
	GraceMinutes int
}

// Templates renders message bodies by kind and language.
type Templates struct {
	byLang map[string]map[domain.MessageKind]*template.Template
}

// LoadTemplates parses the catalogue at path, or the embedded default when
// path is empty.
func LoadTemplates(path string) (*Templates, error) {
	raw := defaultCatalogue
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read templates: %w", err)
		}
		raw = b
	}
	return ParseTemplates(raw)
}

// ParseTemplates parses a YAML catalogue of language → kind → template.
// The fallback language must define every message kind.
func ParseTemplates(raw []byte) (*Templates, error) {
	var catalogue map[string]map[domain.MessageKind]string
	if err := yaml.Unmarshal(raw, &catalogue); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	t := &Templates{byLang: make(map[string]map[domain.MessageKind]*template.Template, len(catalogue))}
	for lang, kinds := range catalogue {
		lang = strings.ToLower(strings.TrimSpace(lang))
		parsed := make(map[domain.MessageKind]*template.Template, len(kinds))
		for kind, text := range kinds {
			tmpl, err := template.New(lang + "/" + string(kind)).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("template %s/%s: %w", lang, kind, err)
			}
			parsed[kind] = tmpl
		}
		t.byLang[lang] = parsed
	}

	fallback := t.byLang[FallbackLanguage]
	for _, kind := range []domain.MessageKind{
		domain.MessageCalled, domain.MessageNextUp, domain.MessageSkipped,
		domain.MessageAbsent, domain.MessageReturned,
	} {
		if fallback[kind] == nil {
			return nil, fmt.Errorf("templates: %q has no %s template", FallbackLanguage, kind)
		}
	}
	return t, nil
}

// Render returns the body for kind in lang, falling back to English when
// the language or the kind is missing. It also returns the language used.
func (t *Templates) Render(kind domain.MessageKind, lang string, data TemplateData) (string, string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	tmpl := t.byLang[lang][kind]
	if tmpl == nil {
		lang = FallbackLanguage
		tmpl = t.byLang[lang][kind]
	}
	if tmpl == nil {
		return "", "", fmt.Errorf("no template for %s", kind)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", "", fmt.Errorf("render %s/%s: %w", lang, kind, err)
	}
	return b.String(), lang, nil
}
