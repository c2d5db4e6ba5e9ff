package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// voskChunkBytes is 250 ms of 16 kHz mono s16le.
const voskChunkBytes = 8000

// VoskBackend transcribes a segment over a fresh Vosk server websocket.
// Each call dials its own connection so concurrent segments never share
// a stream.
type VoskBackend struct {
	Dialer *websocket.Dialer
}

type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Conf  float64 `json:"conf"`
	} `json:"result"`
	Partial string `json:"partial"`
}

// NewVoskBackend returns a backend using the default websocket dialer.
func NewVoskBackend() *VoskBackend {
	return &VoskBackend{Dialer: websocket.DefaultDialer}
}

func (v *VoskBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	pcm, rate, err := pcm16(req.Audio)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/ws?sample_rate=%d", strings.TrimRight(req.Target.Endpoint, "/"), rate)
	conn, _, err := v.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Vosk server: %w", err)
	}
	defer conn.Close()

	stop := closeOnDone(ctx, conn)
	defer stop()

	if cfg := voskConfig(req); cfg != nil {
		if err := conn.WriteJSON(cfg); err != nil {
			return "", fmt.Errorf("failed to send Vosk config: %w", err)
		}
	}

	done := make(chan collected, 1)
	go func() { done <- collectVosk(conn) }()

	for off := 0; off < len(pcm); off += voskChunkBytes {
		end := min(off+voskChunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return "", fmt.Errorf("failed to send audio to Vosk: %w", err)
		}
	}
	// EOF asks the server to flush the final result and close.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		return "", fmt.Errorf("failed to send EOF to Vosk: %w", err)
	}

	res := <-done
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return res.text, res.err
}

// voskConfig carries the language as a model hint; Vosk servers load a
// single model, so only an explicit language is forwarded.
func voskConfig(req Request) map[string]any {
	lang := req.LanguageHint()
	if lang == "" {
		return nil
	}
	return map[string]any{"config": map[string]any{"language": lang}}
}

type collected struct {
	text string
	err  error
}

func collectVosk(conn *websocket.Conn) collected {
	var parts []string
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return collected{text: strings.Join(parts, " "), err: fmt.Errorf("vosk websocket: %w", err)}
			}
			return collected{text: strings.Join(parts, " ")}
		}

		var result voskResult
		if err := json.Unmarshal(message, &result); err != nil {
			return collected{err: fmt.Errorf("failed to parse Vosk result: %w", err)}
		}
		if t := strings.TrimSpace(result.Text); t != "" {
			parts = append(parts, t)
		}
	}
}

// closeOnDone closes conn when ctx ends so blocked reads return.
func closeOnDone(ctx context.Context, conn *websocket.Conn) func() {
	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-quit:
		}
	}()
	return func() { close(quit) }
}
