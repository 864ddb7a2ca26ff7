// travelmate is a LINE webhook gateway: it classifies inbound chat events by
// keyword rules and answers through translation, speech recognition, LLM
// completion, weather and exchange-rate services.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/travelmate-bot/travelmate/pkg/adapters"
	"github.com/travelmate-bot/travelmate/pkg/api"
	"github.com/travelmate-bot/travelmate/pkg/bus"
	"github.com/travelmate-bot/travelmate/pkg/config"
	"github.com/travelmate-bot/travelmate/pkg/content"
	"github.com/travelmate-bot/travelmate/pkg/dispatch"
	"github.com/travelmate-bot/travelmate/pkg/line"
	"github.com/travelmate-bot/travelmate/pkg/logger"
)

func main() {
	consoleMode := flag.Bool("console", false, "interactive local console instead of the webhook server")
	contentDir := flag.String("content", "", "directory of YAML content overrides")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := content.NewStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "content store: %v\n", err)
		os.Exit(1)
	}
	if *contentDir != "" {
		loaded, errs := store.LoadDir(*contentDir)
		for _, e := range errs {
			logger.WarnCF("main", "Skipped content override", map[string]interface{}{"error": e.Error()})
		}
		logger.InfoCF("main", "Loaded content overrides", map[string]interface{}{
			"dir": *contentDir, "count": loaded,
		})
	}

	services := buildServices(ctx, cfg)

	if *consoleMode {
		runConsole(ctx, cfg, store, services)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	client, err := line.NewClient(cfg.ChannelAccessToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "line client: %v\n", err)
		os.Exit(1)
	}

	eventBus := bus.New()
	dispatcher := dispatch.New(client, store, services, eventBus, dispatch.Options{
		Workers:        cfg.Gateway.Workers,
		QueueCapacity:  cfg.Gateway.QueueCapacity,
		AdapterTimeout: cfg.Gateway.AdapterTimeout,
	})
	dispatcher.Start(ctx)

	server := api.NewServer(cfg, dispatcher, eventBus)
	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}

	logger.InfoCF("main", "Gateway running", map[string]interface{}{
		"host": cfg.Gateway.Host,
		"port": cfg.Gateway.Port,
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(); err != nil {
		logger.WarnCF("main", "Server stop", map[string]interface{}{"error": err.Error()})
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("main", "Dispatcher drain timed out", map[string]interface{}{"error": err.Error()})
	}
	eventBus.Close()
	logger.InfoC("main", "Goodbye")
}

// buildServices wires every capability adapter the configuration allows. A
// missing credential leaves that adapter nil; the dispatcher answers those
// intents with a configuration-error reply instead of crashing.
func buildServices(ctx context.Context, cfg *config.Config) dispatch.Services {
	var services dispatch.Services

	creds, err := cfg.GoogleCredentials()
	if err != nil {
		logger.WarnCF("main", "Google credentials unavailable", map[string]interface{}{"error": err.Error()})
	} else {
		if tr, err := adapters.NewTranslator(ctx, creds); err != nil {
			logger.WarnCF("main", "Translate disabled", map[string]interface{}{"error": err.Error()})
		} else {
			services.Translator = tr
		}
		sp, err := adapters.NewTranscriber(ctx, creds, adapters.RecognitionConfig{
			Encoding:     cfg.Speech.Encoding,
			SampleRateHz: cfg.Speech.SampleRateHz,
			LanguageCode: cfg.Speech.LanguageCode,
		})
		if err != nil {
			logger.WarnCF("main", "Speech-to-text disabled", map[string]interface{}{"error": err.Error()})
		} else {
			services.Transcriber = sp
		}
	}

	switch cfg.CompletionProvider {
	case "anthropic":
		if c, err := adapters.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicModel); err != nil {
			logger.WarnCF("main", "Completion disabled", map[string]interface{}{"error": err.Error()})
		} else {
			services.Completer = c
		}
	default:
		if c, err := adapters.NewOpenAICompleter(cfg.OpenAIAPIKey, cfg.OpenAIModel); err != nil {
			logger.WarnCF("main", "Completion disabled", map[string]interface{}{"error": err.Error()})
		} else {
			services.Completer = c
		}
	}

	if cfg.WeatherAPIKey != "" {
		services.Weather = adapters.NewWeatherClient(cfg.WeatherAPIKey)
	}
	if cfg.ExchangeAPIKey != "" {
		services.Exchange = adapters.NewExchangeClient(cfg.ExchangeAPIKey)
	}

	return services
}
