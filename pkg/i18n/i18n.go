package i18n

import (
	"embed"
	"log/slog"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

var (
	//go:embed *.toml
	f embed.FS
)

// Localizer renders message ids of the embedded bundles. Languages it was not
// built with fall back to DEFAULT_LANG when that one is loaded.
type Localizer struct {
	bundle   *i18n.Bundle
	registry map[string]*i18n.Localizer
}

func NewLocalizer(languages ...string) Localizer {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	l := Localizer{
		bundle:   bundle,
		registry: make(map[string]*i18n.Localizer),
	}
	for _, lang := range languages {
		path := lang + ".toml"
		if _, err := bundle.LoadMessageFileFS(f, path); err != nil {
			slog.Error("Failed to load i18n message config", slog.String("error", err.Error()), slog.String("lang", lang), slog.String("file", path))
			continue
		}
		l.registry[lang] = i18n.NewLocalizer(bundle, lang)
	}
	return l
}

func (l Localizer) localizer(lang string) *i18n.Localizer {
	if lz, ok := l.registry[lang]; ok {
		return lz
	}
	return l.registry[DEFAULT_LANG]
}

// Get returns the message of id, or id itself when it is unknown.
func (l Localizer) Get(lang string, id string) string {
	return l.GetWithData(lang, id, nil)
}

// GetWithData renders a message template such as "limit of {{.max}}".
func (l Localizer) GetWithData(lang, id string, data map[string]interface{}) string {
	lz := l.localizer(lang)
	if lz == nil {
		return id
	}

	str, err := lz.Localize(&i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{
			ID:    id,
			Other: id,
		},
		TemplateData: data,
	})
	if err != nil {
		slog.Info("failed to get localizer message", slog.String("lang", lang), slog.String("id", id), slog.String("error", err.Error()))
		return id
	}
	return str
}
