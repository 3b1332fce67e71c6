package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ekisa-team/igichat/internal/audio"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// TranscriptionResponse represents a response from the whisper-server API.
type TranscriptionResponse struct {
	Task     string              `json:"task,omitempty"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration,omitempty"`
	Text     string              `json:"text,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
}

// TranscriptSegment represents a single segment in the transcription.
type TranscriptSegment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// chunks returns the segment texts, or the full text when the server sent no segments.
func (r *TranscriptionResponse) chunks() []string {
	var out []string
	for _, s := range r.Segments {
		if s.Text != "" {
			out = append(out, s.Text)
		}
	}
	if len(out) == 0 && strings.TrimSpace(r.Text) != "" {
		out = append(out, r.Text)
	}
	return out
}

func (i *Instance) transcribe(ctx context.Context, a *plugin.AudioData) (*TranscriptionResponse, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := audio.Encode(part, a); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.00",
	}
	if i.language != "" {
		fields["language"] = i.language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/inference", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out TranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
