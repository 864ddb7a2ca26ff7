package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/travelmate-bot/travelmate/pkg/config"
	"github.com/travelmate-bot/travelmate/pkg/content"
	"github.com/travelmate-bot/travelmate/pkg/dispatch"
	"github.com/travelmate-bot/travelmate/pkg/intent"
	"github.com/travelmate-bot/travelmate/pkg/line"
)

// consoleMessenger prints outbound sends to the terminal instead of calling
// the platform. It runs the exact dispatch path the webhook uses, so console
// sessions exercise classification, adapter calls and the delivery policy.
type consoleMessenger struct {
	mu   sync.Mutex
	done chan struct{}
}

func (m *consoleMessenger) print(kind string, out line.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if out.Text != "" {
		fmt.Printf("[%s] %s\n", kind, out.Text)
		return
	}
	for _, msg := range out.Messages {
		switch v := msg.(type) {
		case messaging_api.TextMessage:
			fmt.Printf("[%s] %s\n", kind, v.Text)
		case *messaging_api.FlexMessage:
			fmt.Printf("[%s] (flex) %s\n", kind, v.AltText)
		case messaging_api.FlexMessage:
			fmt.Printf("[%s] (flex) %s\n", kind, v.AltText)
		default:
			fmt.Printf("[%s] (%T)\n", kind, msg)
		}
	}
}

func (m *consoleMessenger) Reply(replyToken string, out line.Outcome) error {
	m.print("reply", out)
	m.signal()
	return nil
}

func (m *consoleMessenger) Push(to string, out line.Outcome) error {
	m.print("push", out)
	return nil
}

func (m *consoleMessenger) ShowLoading(chatID string) error { return nil }

func (m *consoleMessenger) FetchContent(messageID string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("no message content in console mode")
}

func (m *consoleMessenger) signal() {
	select {
	case m.done <- struct{}{}:
	default:
	}
}

// runConsole reads lines from the terminal, classifies them and runs them
// through a dispatcher whose sends print locally. Useful for exercising
// keyword rules and adapters without a LINE channel.
func runConsole(ctx context.Context, cfg *config.Config, store *content.Store, services dispatch.Services) {
	messenger := &consoleMessenger{done: make(chan struct{}, 1)}
	dispatcher := dispatch.New(messenger, store, services, nil, dispatch.Options{
		Workers:        1,
		QueueCapacity:  4,
		AdapterTimeout: cfg.Gateway.AdapterTimeout,
	})
	dispatcher.Start(ctx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "travelmate> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("console init failed: %v\n", err)
		return
	}
	defer rl.Close()

	fmt.Println("travelmate console. Type a message; /quit exits.")

	seq := 0
	for {
		input, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(input) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		text := strings.TrimSpace(input)
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			break
		}

		seq++
		ev := line.Event{
			SourceID:   "console",
			ReplyToken: fmt.Sprintf("console-%d", seq),
			Kind:       line.PayloadText,
			Text:       text,
			Timestamp:  time.Now().UnixMilli(),
		}
		if !dispatcher.Enqueue(ev, intent.Classify(ev)) {
			continue
		}

		// Wait for the reply so output does not interleave with the prompt.
		select {
		case <-messenger.done:
		case <-time.After(cfg.Gateway.AdapterTimeout + 5*time.Second):
			fmt.Println("(no reply)")
		case <-ctx.Done():
			return
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dispatcher.Shutdown(drainCtx)
	fmt.Println("bye")
}
