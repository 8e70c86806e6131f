package engine

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// AutoLanguage asks the engine to detect the spoken language
const AutoLanguage = "auto"

// NormalizeLanguage trims a requested language. "" and "auto" (any case)
// become "", which every backend treats as auto-detection. Anything else is
// passed to the engine unchanged: whisper accepts names such as "japanese"
// and codes such as "jw" that are not BCP 47 tags.
func NormalizeLanguage(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.EqualFold(trimmed, AutoLanguage) {
		return ""
	}
	return trimmed
}

// LanguageLabel returns a human-readable label for a language code, for logs.
// Example: "ja" -> "Japanese (ja)". Auto-detection is labelled "auto".
func LanguageLabel(code string) string {
	if code == "" {
		return AutoLanguage
	}

	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return fmt.Sprintf("language '%s'", code)
	}

	name := display.English.Tags().Name(tag)
	if name == "" || strings.EqualFold(name, code) {
		return fmt.Sprintf("language '%s'", code)
	}

	return fmt.Sprintf("%s (%s)", name, code)
}
