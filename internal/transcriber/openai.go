package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// OpenAIBackend speaks the OpenAI-compatible audio.transcriptions API
// served by Whisper deployments. The HTTP client is shared; every call
// builds its own request from the Request value.
type OpenAIBackend struct {
	Client *http.Client
}

type openAIResp struct {
	Text string `json:"text"`
}

// NewOpenAIBackend returns a backend on client, or http.DefaultClient when nil.
func NewOpenAIBackend(client *http.Client) *OpenAIBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIBackend{Client: client}
}

func (o *OpenAIBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", errEmptyAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{"model", req.Target.Model},
		{"response_format", "json"},
		{"temperature", strconv.FormatFloat(req.Params.Temperature, 'f', -1, 64)},
		{"seed", strconv.Itoa(req.Params.Seed)},
		{"repetition_penalty", strconv.FormatFloat(req.Params.RepetitionPenalty, 'f', -1, 64)},
	}
	if lang := req.LanguageHint(); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}

	name := req.Filename
	if name == "" {
		name = fmt.Sprintf("segment_%03d.wav", req.Index)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(req.Target.Endpoint, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	if req.Target.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Target.APIKey)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%s http %d: %s", req.Target.Name, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var or openAIResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", fmt.Errorf("decode %s response: %w", req.Target.Name, err)
	}
	return strings.TrimSpace(or.Text), nil
}
