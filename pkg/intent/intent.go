// Package intent classifies inbound events with ordered literal, prefix and
// substring rules. Classification is pure and total: every event maps to
// exactly one intent, the first rule that matches wins, and no rule can fail.
package intent

import (
	"strings"

	"github.com/travelmate-bot/travelmate/pkg/line"
)

type Type string

const (
	TypeStaticMenu       Type = "static_menu"
	TypeLanguageSelect   Type = "language_select"
	TypeTargetLanguage   Type = "target_language"
	TypeTranslate        Type = "translate"
	TypeItineraryPrompt  Type = "itinerary_prompt"
	TypeAttractionPrompt Type = "attraction_prompt"
	TypeWeather          Type = "weather"
	TypeExchangeRate     Type = "exchange_rate"
	TypeAudioTranscribe  Type = "audio_transcribe"
	TypeFreeformChat     Type = "freeform_chat"
)

// Intent is the classified purpose of one inbound event.
type Intent struct {
	Type Type

	MenuName   string // static menu name, TypeStaticMenu only
	Text       string // payload text: translate source, chat text, language choice
	TargetLang string // ISO 639-1 target, TypeTranslate only
	City       string // TypeWeather only
}

// menuKeywords maps exact (case-folded) menu trigger words to static content
// names. Every name here must exist in the content store.
var menuKeywords = map[string]string{
	"apple": "apple_store",
	"選單":    "main_menu",
	"menu":  "main_menu",
}

const (
	keywordLanguageSelect = "選擇輸入語言"
	prefixInputLanguage   = "輸入語言:"
	prefixTranslate       = "翻譯:"
	defaultWeatherCity    = "台北"
)

// languageNames maps localized language tokens to translation target codes,
// checked in order against the translate remainder. English is the documented
// default when nothing matches.
var languageNames = []struct {
	token string
	code  string
}{
	{"日文", "ja"},
	{"韓文", "ko"},
	{"英文", "en"},
	{"中文", "zh-TW"},
}

// Classify assigns an intent to one normalized event. Deterministic and
// side-effect free.
func Classify(ev line.Event) Intent {
	if ev.Kind == line.PayloadAudio {
		return Intent{Type: TypeAudioTranscribe}
	}

	text := strings.TrimSpace(ev.Text)
	folded := strings.ToLower(text)

	if name, ok := menuKeywords[folded]; ok {
		return Intent{Type: TypeStaticMenu, MenuName: name}
	}

	if text == keywordLanguageSelect {
		return Intent{Type: TypeLanguageSelect}
	}

	if rest, ok := cutPrefix(text, prefixInputLanguage); ok {
		return Intent{Type: TypeTargetLanguage, Text: rest}
	}

	if rest, ok := cutPrefix(text, prefixTranslate); ok {
		target, body := sniffTargetLanguage(rest)
		return Intent{Type: TypeTranslate, Text: body, TargetLang: target}
	}

	if strings.Contains(text, "行程") || strings.Contains(folded, "itinerary") || strings.Contains(folded, "schedule") {
		return Intent{Type: TypeItineraryPrompt, Text: text}
	}

	if strings.Contains(text, "景點") || strings.Contains(text, "推薦") || strings.Contains(folded, "attraction") || strings.Contains(folded, "recommend") {
		return Intent{Type: TypeAttractionPrompt, Text: text}
	}

	if strings.Contains(text, "天氣") {
		city := strings.TrimSpace(strings.ReplaceAll(text, "天氣", " "))
		if city == "" {
			city = defaultWeatherCity
		}
		return Intent{Type: TypeWeather, City: city}
	}

	if strings.Contains(text, "匯率") || strings.Contains(folded, "exchange rate") {
		return Intent{Type: TypeExchangeRate}
	}

	return Intent{Type: TypeFreeformChat, Text: text}
}

// sniffTargetLanguage inspects the translate remainder for a localized
// language name. When one is found it becomes the target and the token is
// stripped from the text to translate; otherwise the target defaults to
// English and the remainder passes through untouched.
func sniffTargetLanguage(rest string) (code, body string) {
	for _, lang := range languageNames {
		if strings.Contains(rest, lang.token) {
			body = strings.TrimSpace(strings.Replace(rest, lang.token, "", 1))
			return lang.code, body
		}
	}
	return "en", rest
}

// cutPrefix trims the prefix plus surrounding whitespace, accepting both the
// full-width and ASCII colon variants the quick-reply menus emit.
func cutPrefix(text, prefix string) (string, bool) {
	variants := []string{prefix}
	if strings.HasSuffix(prefix, ":") {
		variants = append(variants, strings.TrimSuffix(prefix, ":")+"：")
	}
	for _, p := range variants {
		if strings.HasPrefix(text, p) {
			return strings.TrimSpace(strings.TrimPrefix(text, p)), true
		}
	}
	return "", false
}

// MenuNames returns every static content name the classifier can produce.
// The content store test asserts each one resolves.
func MenuNames() []string {
	seen := map[string]bool{}
	names := make([]string, 0, len(menuKeywords))
	for _, name := range menuKeywords {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
