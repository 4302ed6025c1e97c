package locales

import (
	"embed"
	"encoding/json"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"tgvk-repost-bot/internal/logger"
)

//go:embed *.json
var localeFS embed.FS

var (
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
)

// Init loads the embedded message catalogs and sets the default language.
func Init(defaultLangCode string) {
	var err error
	defaultLanguage, err = language.Parse(defaultLangCode)
	if err != nil {
		logger.WithField("code", defaultLangCode).Warn("Failed to parse default language code, falling back to English")
		defaultLanguage = language.English
	}

	bundle = i18n.NewBundle(defaultLanguage)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir(".")
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to read embedded locales directory")
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, entry.Name()); err != nil {
			logger.WithField("file", entry.Name()).WithError(err).Warn("Failed to load message file")
			continue
		}
		loaded++
	}
	if loaded == 0 {
		logger.Log.Fatal("No message files loaded from locales")
	}
}

// NewLocalizer creates a localizer for the given language preferences.
func NewLocalizer(langPrefs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langPrefs...)
}

// GetMessage retrieves and formats a message by its ID. Unresolvable ids
// fall back to English and finally to the id itself.
func GetMessage(localizer *i18n.Localizer, msgID string, templateData map[string]interface{}, pluralCount *int) string {
	cfg := &i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: templateData,
	}
	if pluralCount != nil {
		cfg.PluralCount = *pluralCount
	}

	msg, err := localizer.Localize(cfg)
	if err == nil {
		return msg
	}

	fallback, fallbackErr := i18n.NewLocalizer(bundle, language.English.String()).Localize(cfg)
	if fallbackErr == nil {
		return fallback
	}
	logger.WithField("msg_id", msgID).WithError(err).Error("Failed to localize message")
	return msgID
}
