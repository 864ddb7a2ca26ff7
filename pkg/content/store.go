// Package content holds the fixed reply payloads: flex documents and
// quick-reply menus. Definitions live as data (built-in defaults, optional
// YAML overrides) and are parsed once at load time, so Get never fails at
// runtime for a name the classifier produces.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"gopkg.in/yaml.v3"

	"github.com/travelmate-bot/travelmate/pkg/line"
)

// Definition is the data form of one static payload. Exactly one of Flex or
// Text must be set; QuickReplies only applies to text payloads.
type Definition struct {
	Name         string          `yaml:"name"`
	AltText      string          `yaml:"alt_text,omitempty"`
	Flex         string          `yaml:"flex,omitempty"` // raw flex container JSON
	Text         string          `yaml:"text,omitempty"`
	QuickReplies []QuickReplyDef `yaml:"quick_replies,omitempty"`
}

// QuickReplyDef is one quick-reply button: tapping it sends Text back.
type QuickReplyDef struct {
	Label string `yaml:"label"`
	Text  string `yaml:"text"`
}

// Store is a read-only lookup of prepared outbound payloads.
type Store struct {
	mu       sync.RWMutex
	payloads map[string]line.Outcome
}

// NewStore builds a store from the built-in definitions.
func NewStore() (*Store, error) {
	s := &Store{payloads: make(map[string]line.Outcome)}
	for _, def := range builtins() {
		if err := s.register(def); err != nil {
			return nil, fmt.Errorf("builtin %q: %w", def.Name, err)
		}
	}
	return s, nil
}

// LoadDir merges *.yaml definitions from dir over the built-ins. Errors in
// individual files are returned as warnings and don't abort loading.
func (s *Store) LoadDir(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("cannot read content dir %s: %w", dir, err)}
	}

	loaded := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", e.Name(), err))
			continue
		}
		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", e.Name(), err))
			continue
		}
		if err := s.register(def); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", e.Name(), err))
			continue
		}
		loaded++
	}
	return loaded, errs
}

func (s *Store) register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("definition has no name")
	}

	var out line.Outcome
	switch {
	case def.Flex != "":
		container, err := messaging_api.UnmarshalFlexContainer([]byte(def.Flex))
		if err != nil {
			return fmt.Errorf("parse flex document: %w", err)
		}
		alt := def.AltText
		if alt == "" {
			alt = def.Name
		}
		out = line.MessagesOutcome(messaging_api.FlexMessage{
			AltText:  alt,
			Contents: container,
		})
	case def.Text != "":
		out = line.MessagesOutcome(textWithQuickReplies(def.Text, def.QuickReplies))
	default:
		return fmt.Errorf("definition has neither flex nor text")
	}

	s.mu.Lock()
	s.payloads[def.Name] = out
	s.mu.Unlock()
	return nil
}

// Get returns the prepared payload for name. The classifier only emits names
// registered here; a miss indicates a wiring bug, which the caller reports.
func (s *Store) Get(name string) (line.Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.payloads[name]
	return out, ok
}

// Names lists every registered payload name, for diagnostics and tests.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.payloads))
	for name := range s.payloads {
		names = append(names, name)
	}
	return names
}

// LanguagePrompt is step one of the guided translate flow: pick the input
// language via quick replies.
func LanguagePrompt() line.Outcome {
	return line.MessagesOutcome(textWithQuickReplies("請選擇您要輸入的語言", []QuickReplyDef{
		{Label: "中文", Text: "輸入語言: 中文"},
		{Label: "英文", Text: "輸入語言: 英文"},
		{Label: "日文", Text: "輸入語言: 日文"},
	}))
}

// TargetLanguageMenu is step two: acknowledge the chosen input language and
// offer translation targets.
func TargetLanguageMenu(chosen string) line.Outcome {
	text := fmt.Sprintf("您選擇了 %s，請選擇您要翻譯的語言。", chosen)
	return line.MessagesOutcome(textWithQuickReplies(text, []QuickReplyDef{
		{Label: "翻譯成英文", Text: "翻譯: 你好"},
		{Label: "翻譯成日文", Text: "翻譯: こんにちは"},
		{Label: "翻譯成韓文", Text: "翻譯: 안녕하세요"},
	}))
}

func textWithQuickReplies(text string, defs []QuickReplyDef) messaging_api.TextMessage {
	msg := messaging_api.TextMessage{Text: text}
	if len(defs) == 0 {
		return msg
	}
	items := make([]messaging_api.QuickReplyItem, 0, len(defs))
	for _, d := range defs {
		items = append(items, messaging_api.QuickReplyItem{
			Action: messaging_api.MessageAction{
				Label: d.Label,
				Text:  d.Text,
			},
		})
	}
	msg.QuickReply = &messaging_api.QuickReply{Items: items}
	return msg
}
