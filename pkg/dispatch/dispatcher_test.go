package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/travelmate-bot/travelmate/pkg/adapters"
	"github.com/travelmate-bot/travelmate/pkg/bus"
	"github.com/travelmate-bot/travelmate/pkg/content"
	"github.com/travelmate-bot/travelmate/pkg/intent"
	"github.com/travelmate-bot/travelmate/pkg/line"
)

// --- Fakes ---

type sentMessage struct {
	kind string // "reply" or "push"
	to   string // reply token or recipient id
	text string
}

// fakeMessenger records sends and lets tests inject failures. It also tracks
// reply attempts per token to assert the at-most-once property.
type fakeMessenger struct {
	mu            sync.Mutex
	sent          []sentMessage
	replyErr      error
	pushErr       error
	replyAttempts map[string]int
	content       map[string][]byte
	fetchErr      error
	delivered     chan struct{}
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		replyAttempts: make(map[string]int),
		content:       make(map[string][]byte),
		delivered:     make(chan struct{}, 16),
	}
}

func (m *fakeMessenger) Reply(replyToken string, out line.Outcome) error {
	m.mu.Lock()
	m.replyAttempts[replyToken]++
	err := m.replyErr
	if err == nil {
		m.sent = append(m.sent, sentMessage{kind: "reply", to: replyToken, text: outcomeText(out)})
	}
	m.mu.Unlock()
	if err == nil {
		m.signalDelivered()
	}
	return err
}

func (m *fakeMessenger) Push(to string, out line.Outcome) error {
	m.mu.Lock()
	err := m.pushErr
	if err == nil {
		m.sent = append(m.sent, sentMessage{kind: "push", to: to, text: outcomeText(out)})
	}
	m.mu.Unlock()
	if err == nil {
		m.signalDelivered()
	}
	return err
}

func (m *fakeMessenger) signalDelivered() {
	select {
	case m.delivered <- struct{}{}:
	default:
	}
}

func (m *fakeMessenger) ShowLoading(chatID string) error { return nil }

func (m *fakeMessenger) FetchContent(messageID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	data, ok := m.content[messageID]
	if !ok {
		return nil, fmt.Errorf("no content for %s", messageID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *fakeMessenger) sends() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *fakeMessenger) attempts(token string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replyAttempts[token]
}

func (m *fakeMessenger) waitDelivered(t *testing.T) {
	t.Helper()
	select {
	case <-m.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func outcomeText(out line.Outcome) string {
	if out.Text != "" {
		return out.Text
	}
	return fmt.Sprintf("(%d messages)", len(out.Messages))
}

type fakeTranslator struct {
	err error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("[%s] %s", targetLang, text), nil
}

type fakeTranscriber struct {
	transcript string
	err        error
	mu         sync.Mutex
	audio      [][]byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	buf := make([]byte, len(audio))
	copy(buf, audio)
	f.audio = append(f.audio, buf)
	f.mu.Unlock()
	return f.transcript, f.err
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	return f.reply, f.err
}

type fakeWeather struct {
	wx  adapters.Weather
	err error
}

func (f *fakeWeather) Current(ctx context.Context, city string) (adapters.Weather, error) {
	return f.wx, f.err
}

type fakeExchange struct {
	rate float64
	err  error
}

func (f *fakeExchange) Rate(ctx context.Context, base, quote string) (float64, error) {
	return f.rate, f.err
}

// --- Helpers ---

func testStore(t *testing.T) *content.Store {
	t.Helper()
	store, err := content.NewStore()
	if err != nil {
		t.Fatalf("content store: %v", err)
	}
	return store
}

func startDispatcher(t *testing.T, m Messenger, services Services, opts Options) *Dispatcher {
	t.Helper()
	d := New(m, testStore(t), services, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		d.Shutdown(shutdownCtx)
	})
	return d
}

func textEvent(token, text string) line.Event {
	return line.Event{
		SourceID:   "U1",
		ReplyToken: token,
		Kind:       line.PayloadText,
		Text:       text,
	}
}

// --- Tests ---

// TestReplyTokenSpentAtMostOnce verifies a successful reply never triggers a
// second send for the same event.
func TestReplyTokenSpentAtMostOnce(t *testing.T) {
	m := newFakeMessenger()
	d := startDispatcher(t, m, Services{}, Options{Workers: 1, QueueCapacity: 4})

	ev := textEvent("rt-once", "選單")
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}
	m.waitDelivered(t)

	if got := m.attempts("rt-once"); got != 1 {
		t.Errorf("expected exactly 1 reply attempt, got %d", got)
	}
	sends := m.sends()
	if len(sends) != 1 || sends[0].kind != "reply" {
		t.Errorf("expected a single reply send, got %+v", sends)
	}
}

// TestPushFallbackOnSpentToken verifies that when the platform rejects the
// reply token as spent or expired, the same payload goes out via push and the
// token is never retried.
func TestPushFallbackOnSpentToken(t *testing.T) {
	m := newFakeMessenger()
	m.replyErr = errors.New("linebot: 400 Invalid reply token")
	d := startDispatcher(t, m, Services{}, Options{Workers: 1, QueueCapacity: 4})

	ev := textEvent("rt-spent", "選單")
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}
	m.waitDelivered(t)

	if got := m.attempts("rt-spent"); got != 1 {
		t.Errorf("expected exactly 1 reply attempt, got %d", got)
	}
	sends := m.sends()
	if len(sends) != 1 || sends[0].kind != "push" || sends[0].to != "U1" {
		t.Errorf("expected a push to U1, got %+v", sends)
	}
}

// TestNoFallbackOnOtherSendErrors verifies a non-token reply failure is
// swallowed without a push retry, so the user never gets duplicates from
// transient transport errors.
func TestNoFallbackOnOtherSendErrors(t *testing.T) {
	m := newFakeMessenger()
	m.replyErr = errors.New("connection reset by peer")
	d := startDispatcher(t, m, Services{}, Options{Workers: 1, QueueCapacity: 4})

	ev := textEvent("rt-err", "選單")
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Shutdown(shutdownCtx)

	if sends := m.sends(); len(sends) != 0 {
		t.Errorf("expected no successful sends, got %+v", sends)
	}
}

// TestPushDirectlyWithoutToken verifies events lacking a reply token are
// delivered by push without a reply attempt.
func TestPushDirectlyWithoutToken(t *testing.T) {
	m := newFakeMessenger()
	d := startDispatcher(t, m, Services{}, Options{Workers: 1, QueueCapacity: 4})

	ev := line.Event{SourceID: "U9", Kind: line.PayloadText, Text: "選單"}
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}
	m.waitDelivered(t)

	sends := m.sends()
	if len(sends) != 1 || sends[0].kind != "push" || sends[0].to != "U9" {
		t.Errorf("expected a push to U9, got %+v", sends)
	}
}

// TestQueueFullRejects verifies saturation turns into a rejection with a busy
// apology push instead of unbounded queue growth.
func TestQueueFullRejects(t *testing.T) {
	m := newFakeMessenger()

	// A dispatcher that is never started keeps every enqueued job in its
	// queue, so capacity exhaustion is deterministic.
	d := New(m, testStore(t), Services{}, nil, Options{Workers: 1, QueueCapacity: 2})

	ev := textEvent("rt", "選單")
	it := intent.Classify(ev)

	if !d.Enqueue(ev, it) || !d.Enqueue(ev, it) {
		t.Fatal("expected the first two enqueues to succeed")
	}
	if d.Enqueue(ev, it) {
		t.Fatal("expected the third enqueue to be rejected")
	}

	// The busy apology goes out asynchronously.
	m.waitDelivered(t)
	sends := m.sends()
	if len(sends) != 1 || sends[0].kind != "push" {
		t.Fatalf("expected one busy push, got %+v", sends)
	}
	if !strings.Contains(sends[0].text, "稍後再試") {
		t.Errorf("expected busy notice, got %q", sends[0].text)
	}
	if d.QueueDepth() != 2 {
		t.Errorf("expected queue depth 2, got %d", d.QueueDepth())
	}
}

// TestProcessingNoticeUsesPushNotReplyToken verifies slow intents send the
// interim notice via push first, leaving the reply token intact for the real
// result.
func TestProcessingNoticeUsesPushNotReplyToken(t *testing.T) {
	m := newFakeMessenger()
	services := Services{Completer: &fakeCompleter{reply: "好的，這是答案"}}
	d := startDispatcher(t, m, services, Options{Workers: 1, QueueCapacity: 4})

	ev := textEvent("rt-slow", "晚餐吃什麼好")
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}
	m.waitDelivered(t) // processing notice
	m.waitDelivered(t) // final reply

	sends := m.sends()
	if len(sends) != 2 {
		t.Fatalf("expected 2 sends, got %+v", sends)
	}
	if sends[0].kind != "push" || !strings.Contains(sends[0].text, "處理中") {
		t.Errorf("expected processing push first, got %+v", sends[0])
	}
	if sends[1].kind != "reply" || sends[1].text != "好的，這是答案" {
		t.Errorf("expected final reply second, got %+v", sends[1])
	}
	if got := m.attempts("rt-slow"); got != 1 {
		t.Errorf("expected exactly 1 reply attempt, got %d", got)
	}
}

// TestResolveOutcomes walks each intent through resolve and checks the
// rendered reply, including the mapped failure texts.
func TestResolveOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		services Services
		event    line.Event
		want     string
	}{
		{
			name:     "translate success",
			services: Services{Translator: &fakeTranslator{}},
			event:    textEvent("rt", "翻譯: 日文 你好"),
			want:     "[ja] 你好",
		},
		{
			name:     "translate failure is prefixed",
			services: Services{Translator: &fakeTranslator{err: errors.New("quota exceeded")}},
			event:    textEvent("rt", "翻譯: 日文 你好"),
			want:     "⚠️ 翻譯失敗：quota exceeded",
		},
		{
			name:     "translate unconfigured",
			services: Services{},
			event:    textEvent("rt", "翻譯: 你好"),
			want:     "⚠️ 翻譯失敗：服務未設定",
		},
		{
			name:     "chat failure is prefixed",
			services: Services{Completer: &fakeCompleter{err: errors.New("model overloaded")}},
			event:    textEvent("rt", "跟我聊聊"),
			want:     "⚠️ 發生錯誤：model overloaded",
		},
		{
			name:     "weather success",
			services: Services{Weather: &fakeWeather{wx: adapters.Weather{City: "高雄", Description: "晴", TempC: 31.2, Humidity: 65}}},
			event:    textEvent("rt", "高雄天氣"),
			want:     "🌤 高雄 的天氣：晴，氣溫 31.2°C，濕度 65%",
		},
		{
			name:     "weather failure",
			services: Services{Weather: &fakeWeather{err: errors.New("city not found")}},
			event:    textEvent("rt", "高雄天氣"),
			want:     "❌ 無法取得 高雄 的天氣資料。",
		},
		{
			name:     "exchange success",
			services: Services{Exchange: &fakeExchange{rate: 31.4159}},
			event:    textEvent("rt", "匯率"),
			want:     "💱 目前匯率：1 USD ≈ 31.416 TWD",
		},
		{
			name:     "exchange failure is prefixed",
			services: Services{Exchange: &fakeExchange{err: errors.New("bad key")}},
			event:    textEvent("rt", "匯率"),
			want:     "⚠️ 匯率查詢失敗：bad key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(newFakeMessenger(), testStore(t), tt.services, nil, Options{})
			out := d.resolve(context.Background(), job{event: tt.event, intent: intent.Classify(tt.event)})
			if out.Text != tt.want {
				t.Errorf("resolve text = %q, want %q", out.Text, tt.want)
			}
		})
	}
}

// TestHandlePanicDoesNotKillWorker verifies a panicking handler leaves the
// worker alive for subsequent events.
func TestHandlePanicDoesNotKillWorker(t *testing.T) {
	m := newFakeMessenger()
	services := Services{Translator: translatorFunc(func(ctx context.Context, text, lang string) (string, error) {
		panic("translator blew up")
	})}
	d := startDispatcher(t, m, services, Options{Workers: 1, QueueCapacity: 4})

	ev := textEvent("rt-panic", "翻譯: 日文 你好")
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}

	// The single worker must survive the panic to answer the next event,
	// which never touches the translator.
	ev2 := textEvent("rt-after", "選單")
	if !d.Enqueue(ev2, intent.Classify(ev2)) {
		t.Fatal("enqueue rejected")
	}
	m.waitDelivered(t)

	found := false
	for _, s := range m.sends() {
		if s.kind == "reply" && s.to == "rt-after" {
			found = true
		}
	}
	if !found {
		t.Error("expected the event after the panic to be answered")
	}
}

type translatorFunc func(ctx context.Context, text, targetLang string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return f(ctx, text, targetLang)
}

// TestAudioFlow verifies fetch, transcription, display-language translation
// and the empty-result sentinel.
func TestAudioFlow(t *testing.T) {
	tests := []struct {
		name        string
		transcriber *fakeTranscriber
		translator  Translator
		want        string
	}{
		{
			name:        "transcript translated for display",
			transcriber: &fakeTranscriber{transcript: "hello there"},
			translator:  &fakeTranslator{},
			want:        "[zh-TW] hello there",
		},
		{
			name:        "empty result becomes sentinel",
			transcriber: &fakeTranscriber{transcript: ""},
			translator:  &fakeTranslator{},
			want:        "[zh-TW] 無法識別語音",
		},
		{
			name:        "translation failure keeps transcript",
			transcriber: &fakeTranscriber{transcript: "hello there"},
			translator:  &fakeTranslator{err: errors.New("quota")},
			want:        "hello there",
		},
		{
			name:        "no translator keeps transcript",
			transcriber: &fakeTranscriber{transcript: "hello there"},
			translator:  nil,
			want:        "hello there",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMessenger()
			m.content["m-1"] = []byte("mp3-bytes")

			services := Services{Transcriber: tt.transcriber, Translator: tt.translator}
			d := New(m, testStore(t), services, nil, Options{})

			ev := line.Event{SourceID: "U1", ReplyToken: "rt", Kind: line.PayloadAudio, MessageID: "m-1"}
			out := d.handleAudio(context.Background(), ev)
			if out.Text != tt.want {
				t.Errorf("audio reply = %q, want %q", out.Text, tt.want)
			}
		})
	}
}

// TestAudioFetchFailure verifies a content download failure maps to the
// speech failure text.
func TestAudioFetchFailure(t *testing.T) {
	m := newFakeMessenger()
	m.fetchErr = errors.New("404 not found")

	services := Services{Transcriber: &fakeTranscriber{}, Translator: &fakeTranslator{}}
	d := New(m, testStore(t), services, nil, Options{})

	ev := line.Event{SourceID: "U1", Kind: line.PayloadAudio, MessageID: "m-x"}
	out := d.handleAudio(context.Background(), ev)
	if !strings.HasPrefix(out.Text, "⚠️ 語音辨識失敗：") {
		t.Errorf("expected speech failure text, got %q", out.Text)
	}
}

// TestConcurrentAudioIsolation verifies concurrent audio events each reach
// the recognizer with their own bytes.
func TestConcurrentAudioIsolation(t *testing.T) {
	m := newFakeMessenger()
	contents := map[string]string{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("m-%d", i)
		payload := fmt.Sprintf("clip-%d-payload", i)
		m.content[id] = []byte(payload)
		contents[payload] = id
	}

	tr := &fakeTranscriber{transcript: "ok"}
	d := New(m, testStore(t), Services{Transcriber: tr}, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := line.Event{SourceID: "U1", Kind: line.PayloadAudio, MessageID: fmt.Sprintf("m-%d", i)}
			out := d.handleAudio(context.Background(), ev)
			if out.Text != "ok" {
				t.Errorf("unexpected audio reply %q", out.Text)
			}
		}(i)
	}
	wg.Wait()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.audio) != 8 {
		t.Fatalf("expected 8 transcriptions, got %d", len(tr.audio))
	}
	seen := map[string]bool{}
	for _, buf := range tr.audio {
		s := string(buf)
		if _, ok := contents[s]; !ok {
			t.Errorf("recognizer received corrupted audio %q", s)
		}
		if seen[s] {
			t.Errorf("recognizer received duplicate audio %q", s)
		}
		seen[s] = true
	}
}

// TestEnqueueDuringShutdownDoesNotPanic races Enqueue against Shutdown: an
// enqueue landing in the shutdown window must return false, never panic on
// the closing queue.
func TestEnqueueDuringShutdownDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		m := newFakeMessenger()
		d := New(m, testStore(t), Services{}, nil, Options{Workers: 1, QueueCapacity: 8})
		ctx, cancel := context.WithCancel(context.Background())
		d.Start(ctx)

		ev := textEvent("rt-race", "選單")
		it := intent.Classify(ev)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				d.Enqueue(ev, it)
			}
		}()
		go func() {
			defer wg.Done()
			<-start
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			d.Shutdown(shutdownCtx)
		}()
		close(start)
		wg.Wait()
		cancel()

		// After shutdown every further enqueue is a clean rejection.
		if d.Enqueue(ev, it) {
			t.Fatal("expected enqueue after shutdown to be rejected")
		}
	}
}

// TestBusLifecycleEvents verifies dispatch publishes receipt and delivery
// events on the system bus.
func TestBusLifecycleEvents(t *testing.T) {
	m := newFakeMessenger()
	eventBus := bus.New()
	defer eventBus.Close()
	tap := eventBus.SubscribeSystem("test")

	d := New(m, testStore(t), Services{}, eventBus, Options{Workers: 1, QueueCapacity: 4})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	ev := textEvent("rt-bus", "選單")
	if !d.Enqueue(ev, intent.Classify(ev)) {
		t.Fatal("enqueue rejected")
	}
	m.waitDelivered(t)

	types := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case raw := <-tap:
			if evt, ok := raw.(bus.SystemEvent); ok {
				types[evt.Type] = true
			}
		case <-deadline:
			t.Fatalf("timed out, saw %v", types)
		}
	}
	if !types[bus.EventReceived] || !types[bus.EventReplySent] {
		t.Errorf("expected received and reply-sent events, saw %v", types)
	}
}
