package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/travelmate-bot/travelmate/pkg/adapters"
	"github.com/travelmate-bot/travelmate/pkg/line"
	"github.com/travelmate-bot/travelmate/pkg/logger"
)

// maxAudioBytes caps a single clip; the platform keeps voice messages well
// under this.
const maxAudioBytes = 10 << 20

// handleAudio runs the audio flow: fetch the clip behind the event's message
// id, transcribe it, translate the transcript to the display language, and
// return the reply. An empty recognition result substitutes the sentinel
// text instead of surfacing an error.
func (d *Dispatcher) handleAudio(ctx context.Context, ev line.Event) line.Outcome {
	if d.services.Transcriber == nil {
		return line.TextOutcome(adapters.FailureText("語音辨識失敗", errNotConfigured))
	}

	audio, err := d.fetchAudio(ev)
	if err != nil {
		return line.TextOutcome(adapters.FailureText("語音辨識失敗", err))
	}

	transcript, err := d.services.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return line.TextOutcome(adapters.FailureText("語音辨識失敗", err))
	}
	if transcript == "" {
		transcript = transcribeSentinel
	}

	if d.services.Translator == nil {
		return line.TextOutcome(transcript)
	}
	translated, err := d.services.Translator.Translate(ctx, transcript, audioDisplayLang)
	if err != nil {
		// The transcript is still a usable reply; don't turn a translation
		// hiccup into silence.
		logger.WarnCF("dispatch", "Transcript translation failed, replying untranslated", map[string]interface{}{
			"error": err.Error(),
		})
		return line.TextOutcome(transcript)
	}
	return line.TextOutcome(translated)
}

// fetchAudio materializes the clip into a per-event temporary file and reads
// it back. The buffer is keyed by message id plus a random suffix so
// concurrent audio events never share a path, and it is removed on every exit
// path.
func (d *Dispatcher) fetchAudio(ev line.Event) ([]byte, error) {
	body, err := d.messenger.FetchContent(ev.MessageID)
	if err != nil {
		return nil, fmt.Errorf("fetch audio content: %w", err)
	}
	defer body.Close()

	name := fmt.Sprintf("audio-%s-%s.mp3", ev.MessageID, uuid.NewString())
	path := filepath.Join(os.TempDir(), name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create audio buffer: %w", err)
	}
	defer os.Remove(path)

	_, copyErr := io.Copy(f, io.LimitReader(body, maxAudioBytes))
	closeErr := f.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("buffer audio content: %w", copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("flush audio buffer: %w", closeErr)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio buffer: %w", err)
	}
	return data, nil
}
