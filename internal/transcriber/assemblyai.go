package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	AssemblyAIWebSocketURL = "wss://streaming.assemblyai.com/v3/ws"

	// AssemblyAI accepts chunks between 50 ms and 1000 ms. At 16 kHz s16le:
	// 50 ms = 1600 bytes, 950 ms = 30400 bytes (under the 1000 ms limit).
	assemblyMinChunk = 1600
	assemblyMaxChunk = 30400
)

// AssemblyAIBackend streams one segment per v3 realtime session and
// returns the formatted turns joined with spaces.
type AssemblyAIBackend struct {
	Dialer *websocket.Dialer
}

type assemblyAIMessage struct {
	Type               string  `json:"type"`
	ID                 string  `json:"id,omitempty"`
	ExpiresAt          int64   `json:"expires_at,omitempty"`
	Transcript         string  `json:"transcript,omitempty"`
	TurnIsFormatted    bool    `json:"turn_is_formatted,omitempty"`
	AudioDurationSec   float64 `json:"audio_duration_seconds,omitempty"`
	SessionDurationSec float64 `json:"session_duration_seconds,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// NewAssemblyAIBackend returns a backend using the default websocket dialer.
func NewAssemblyAIBackend() *AssemblyAIBackend {
	return &AssemblyAIBackend{Dialer: websocket.DefaultDialer}
}

func (a *AssemblyAIBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	if req.Target.APIKey == "" {
		return "", fmt.Errorf("AssemblyAI API key is required")
	}
	pcm, rate, err := pcm16(req.Audio)
	if err != nil {
		return "", err
	}

	endpoint := req.Target.Endpoint
	if endpoint == "" {
		endpoint = AssemblyAIWebSocketURL
	}
	q := url.Values{}
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("format_turns", "true")
	if lang := req.LanguageHint(); lang != "" && lang != "en" {
		q.Set("speech_model", "universal-streaming-multilingual")
	}

	header := http.Header{}
	header.Add("Authorization", req.Target.APIKey)

	conn, _, err := a.Dialer.DialContext(ctx, endpoint+"?"+q.Encode(), header)
	if err != nil {
		return "", fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}
	defer conn.Close()

	stop := closeOnDone(ctx, conn)
	defer stop()

	done := make(chan collected, 1)
	go func() { done <- collectAssemblyAI(conn) }()

	for _, chunk := range assemblyChunks(pcm) {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return "", fmt.Errorf("failed to send audio to AssemblyAI: %w", err)
		}
	}
	if err := conn.WriteJSON(assemblyAIMessage{Type: "Terminate"}); err != nil {
		return "", fmt.Errorf("failed to terminate AssemblyAI session: %w", err)
	}

	res := <-done
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return res.text, res.err
}

// assemblyChunks splits pcm into sendable chunks. A short tail is padded
// with silence up to the minimum chunk size.
func assemblyChunks(pcm []byte) [][]byte {
	var chunks [][]byte
	for len(pcm) > 0 {
		n := min(len(pcm), assemblyMaxChunk)
		chunk := pcm[:n]
		if n < assemblyMinChunk {
			chunk = make([]byte, assemblyMinChunk)
			copy(chunk, pcm[:n])
		}
		chunks = append(chunks, chunk)
		pcm = pcm[n:]
	}
	return chunks
}

func collectAssemblyAI(conn *websocket.Conn) collected {
	var turns []string
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return collected{text: strings.Join(turns, " "), err: fmt.Errorf("assemblyai websocket: %w", err)}
			}
			return collected{text: strings.Join(turns, " ")}
		}

		var msg assemblyAIMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return collected{err: fmt.Errorf("failed to parse AssemblyAI message: %w", err)}
		}

		switch msg.Type {
		case "Turn":
			if msg.TurnIsFormatted && strings.TrimSpace(msg.Transcript) != "" {
				turns = append(turns, strings.TrimSpace(msg.Transcript))
			}
		case "Termination":
			return collected{text: strings.Join(turns, " ")}
		case "Error":
			return collected{err: fmt.Errorf("assemblyai: %s", msg.Error)}
		}
	}
}
