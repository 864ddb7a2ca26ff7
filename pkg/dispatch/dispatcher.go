// Package dispatch schedules inbound event handling off the webhook path and
// delivers the result under the platform's reply-token rules: the token is
// spent at most once, and push-send by durable recipient id is the fallback
// once the token is invalid or expired. Handling runs on a bounded worker
// pool; when the queue is full new events are rejected with an apology push
// instead of growing without bound.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/travelmate-bot/travelmate/pkg/adapters"
	"github.com/travelmate-bot/travelmate/pkg/bus"
	"github.com/travelmate-bot/travelmate/pkg/content"
	"github.com/travelmate-bot/travelmate/pkg/intent"
	"github.com/travelmate-bot/travelmate/pkg/line"
	"github.com/travelmate-bot/travelmate/pkg/logger"
)

// Messenger is the platform send surface the dispatcher needs.
type Messenger interface {
	Reply(replyToken string, out line.Outcome) error
	Push(to string, out line.Outcome) error
	ShowLoading(chatID string) error
	FetchContent(messageID string) (io.ReadCloser, error)
}

// Translator renders text in a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Transcriber converts audio bytes to text. Empty text with nil error means
// the recognizer produced no result.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// WeatherService looks up current conditions by city.
type WeatherService interface {
	Current(ctx context.Context, city string) (adapters.Weather, error)
}

// ExchangeService looks up a currency-pair rate.
type ExchangeService interface {
	Rate(ctx context.Context, base, quote string) (float64, error)
}

// Services bundles the capability adapters the dispatcher resolves intents
// against. Any nil service turns its intents into a configuration-error reply.
type Services struct {
	Translator  Translator
	Transcriber Transcriber
	Completer   adapters.Completer
	Weather     WeatherService
	Exchange    ExchangeService
}

// Options tunes the worker pool.
type Options struct {
	Workers        int
	QueueCapacity  int
	AdapterTimeout time.Duration
}

const (
	chatSystemPrompt       = "你是 LINE 機器人中的智慧助理"
	itinerarySystemPrompt  = "你是旅遊行程規劃助手，請依使用者的需求規劃具體可行的行程。"
	attractionSystemPrompt = "你是在地旅遊達人，請推薦適合的景點並簡述理由。"

	// transcribeSentinel replaces an empty recognition result so the user
	// always receives a reply.
	transcribeSentinel = "無法識別語音"

	// audioDisplayLang is the language transcripts are rendered in before
	// delivery.
	audioDisplayLang = "zh-TW"

	processingNotice = "🔄 收到，正在處理中，請稍候…"
	busyNotice       = "⚠️ 目前訊息量較大，請稍後再試。"

	exchangeBaseCurrency  = "USD"
	exchangeQuoteCurrency = "TWD"
)

type job struct {
	event  line.Event
	intent intent.Intent
}

// Dispatcher owns the worker pool and the delivery policy.
type Dispatcher struct {
	messenger Messenger
	store     *content.Store
	services  Services
	bus       *bus.Bus
	opts      Options

	queue   chan job
	wg      sync.WaitGroup
	started bool
	closed  bool
	mu      sync.Mutex
}

// New creates a dispatcher. Call Start before Enqueue.
func New(messenger Messenger, store *content.Store, services Services, eventBus *bus.Bus, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 32
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 30 * time.Second
	}
	return &Dispatcher{
		messenger: messenger,
		store:     store,
		services:  services,
		bus:       eventBus,
		opts:      opts,
		queue:     make(chan job, opts.QueueCapacity),
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled and the queue is closed by Shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	logger.InfoCF("dispatch", "Worker pool started", map[string]interface{}{
		"workers": d.opts.Workers,
		"queue":   d.opts.QueueCapacity,
	})
}

// Enqueue schedules handling for one classified event and returns before any
// handling happens, keeping the webhook response path fast. Returns false when
// the pool is saturated; the caller has already been notified via push.
func (d *Dispatcher) Enqueue(ev line.Event, it intent.Intent) bool {
	// The closed check and the send stay under one critical section so
	// Shutdown cannot close the queue between them. The send is non-blocking,
	// so holding the mutex here never stalls.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	select {
	case d.queue <- job{event: ev, intent: it}:
		d.mu.Unlock()
		d.publish(bus.EventReceived, map[string]interface{}{
			"source": ev.SourceID,
			"intent": string(it.Type),
		})
		return true
	default:
	}
	d.mu.Unlock()

	// Queue full. Reject with backpressure instead of growing without bound,
	// but still tell the user.
	d.publish(bus.EventRejected, map[string]interface{}{"source": ev.SourceID})
	logger.WarnCF("dispatch", "Queue full, event rejected", map[string]interface{}{
		"source": ev.SourceID,
		"intent": string(it.Type),
	})
	go func() {
		if err := d.messenger.Push(ev.SourceID, line.TextOutcome(busyNotice)); err != nil {
			line.LogSendFailure("dispatch", "push", ev.SourceID, err)
		}
	}()
	return false
}

// Shutdown stops accepting work and waits for in-flight handling, bounded by
// ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.started && !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports the number of queued, not yet claimed jobs.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(ctx, j)
		}
	}
}

// handle runs one event to completion. Everything is caught here: a handling
// failure becomes a user-visible reply, never a crash, and never reaches the
// already-finished inbound HTTP path.
func (d *Dispatcher) handle(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatch", "Panic in event handling", map[string]interface{}{
				"panic":  fmt.Sprint(r),
				"source": j.event.SourceID,
			})
			d.publish(bus.EventHandleFailed, map[string]interface{}{
				"source": j.event.SourceID,
				"panic":  fmt.Sprint(r),
			})
		}
	}()

	if isSlow(j.intent.Type) {
		d.notifyProcessing(j.event)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.AdapterTimeout)
	out := d.resolve(callCtx, j)
	cancel()

	d.deliver(j.event, out)
}

// isSlow marks intents whose expected latency warrants a processing notice.
func isSlow(t intent.Type) bool {
	return t == intent.TypeFreeformChat || t == intent.TypeAudioTranscribe ||
		t == intent.TypeItineraryPrompt || t == intent.TypeAttractionPrompt
}

// notifyProcessing tells the user work is underway. Push-send only — spending
// the reply token here would burn the single reply before the real result is
// ready.
func (d *Dispatcher) notifyProcessing(ev line.Event) {
	if err := d.messenger.ShowLoading(ev.SourceID); err != nil {
		logger.DebugCF("dispatch", "Loading animation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := d.messenger.Push(ev.SourceID, line.TextOutcome(processingNotice)); err != nil {
		line.LogSendFailure("dispatch", "push", ev.SourceID, err)
	}
}

// resolve turns a classified event into the outbound payload. Total: adapter
// failures come back as prefixed failure text, never as an error.
func (d *Dispatcher) resolve(ctx context.Context, j job) line.Outcome {
	it := j.intent
	switch it.Type {
	case intent.TypeStaticMenu:
		out, ok := d.store.Get(it.MenuName)
		if !ok {
			// The classifier only produces registered names; reaching this
			// branch is a wiring bug.
			logger.ErrorCF("dispatch", "Unknown static content name", map[string]interface{}{
				"name": it.MenuName,
			})
			return line.TextOutcome(adapters.FailureText("發生錯誤", fmt.Errorf("未知的選單 %q", it.MenuName)))
		}
		return out

	case intent.TypeLanguageSelect:
		return content.LanguagePrompt()

	case intent.TypeTargetLanguage:
		return content.TargetLanguageMenu(it.Text)

	case intent.TypeTranslate:
		if d.services.Translator == nil {
			return line.TextOutcome(adapters.FailureText("翻譯失敗", errNotConfigured))
		}
		translated, err := d.services.Translator.Translate(ctx, it.Text, it.TargetLang)
		if err != nil {
			return line.TextOutcome(adapters.FailureText("翻譯失敗", err))
		}
		return line.TextOutcome(translated)

	case intent.TypeItineraryPrompt:
		return d.complete(ctx, itinerarySystemPrompt, it.Text)

	case intent.TypeAttractionPrompt:
		return d.complete(ctx, attractionSystemPrompt, it.Text)

	case intent.TypeWeather:
		if d.services.Weather == nil {
			return line.TextOutcome(fmt.Sprintf("❌ 無法取得 %s 的天氣資料。", it.City))
		}
		wx, err := d.services.Weather.Current(ctx, it.City)
		if err != nil {
			logger.WarnCF("dispatch", "Weather lookup failed", map[string]interface{}{
				"city":  it.City,
				"error": err.Error(),
			})
			return line.TextOutcome(fmt.Sprintf("❌ 無法取得 %s 的天氣資料。", it.City))
		}
		return line.TextOutcome(fmt.Sprintf("🌤 %s 的天氣：%s，氣溫 %.1f°C，濕度 %.0f%%",
			wx.City, wx.Description, wx.TempC, wx.Humidity))

	case intent.TypeExchangeRate:
		if d.services.Exchange == nil {
			return line.TextOutcome(adapters.FailureText("匯率查詢失敗", errNotConfigured))
		}
		rate, err := d.services.Exchange.Rate(ctx, exchangeBaseCurrency, exchangeQuoteCurrency)
		if err != nil {
			return line.TextOutcome(adapters.FailureText("匯率查詢失敗", err))
		}
		return line.TextOutcome(fmt.Sprintf("💱 目前匯率：1 %s ≈ %.3f %s",
			exchangeBaseCurrency, rate, exchangeQuoteCurrency))

	case intent.TypeAudioTranscribe:
		return d.handleAudio(ctx, j.event)

	case intent.TypeFreeformChat:
		return d.complete(ctx, chatSystemPrompt, it.Text)

	default:
		// Must not occur; fall back to freeform chat defensively.
		logger.WarnCF("dispatch", "Unrecognized intent, treating as chat", map[string]interface{}{
			"intent": string(it.Type),
		})
		return d.complete(ctx, chatSystemPrompt, it.Text)
	}
}

var errNotConfigured = fmt.Errorf("服務未設定")

func (d *Dispatcher) complete(ctx context.Context, systemPrompt, userText string) line.Outcome {
	if d.services.Completer == nil {
		return line.TextOutcome(adapters.FailureText("發生錯誤", errNotConfigured))
	}
	reply, err := d.services.Completer.Complete(ctx, systemPrompt, userText)
	if err != nil {
		return line.TextOutcome(adapters.FailureText("發生錯誤", err))
	}
	return line.TextOutcome(reply)
}

// deliver sends the outcome: one reply-token attempt at most, push fallback
// when the token is spent or expired, and push directly when no token exists.
// Delivery failures are logged and swallowed.
func (d *Dispatcher) deliver(ev line.Event, out line.Outcome) {
	if ev.ReplyToken != "" {
		err := d.messenger.Reply(ev.ReplyToken, out)
		if err == nil {
			d.publish(bus.EventReplySent, map[string]interface{}{"source": ev.SourceID})
			return
		}
		if !line.IsTokenInvalid(err) {
			line.LogSendFailure("dispatch", "reply", ev.SourceID, err)
			d.publish(bus.EventHandleFailed, map[string]interface{}{
				"source": ev.SourceID,
				"error":  err.Error(),
			})
			return
		}
		logger.InfoCF("dispatch", "Reply token spent or expired, falling back to push", map[string]interface{}{
			"source": ev.SourceID,
		})
	}

	if err := d.messenger.Push(ev.SourceID, out); err != nil {
		line.LogSendFailure("dispatch", "push", ev.SourceID, err)
		d.publish(bus.EventHandleFailed, map[string]interface{}{
			"source": ev.SourceID,
			"error":  err.Error(),
		})
		return
	}
	d.publish(bus.EventPushSent, map[string]interface{}{"source": ev.SourceID})
}

func (d *Dispatcher) publish(eventType string, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.PublishSystem(bus.SystemEvent{Type: eventType, Source: "dispatch", Data: data})
}
