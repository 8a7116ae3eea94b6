package scribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Transcriber turns a 16kHz mono WAV file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath, prompt string) (string, error)
}

// ExecTranscriber shells out to a whisper.cpp binary.
type ExecTranscriber struct {
	WhisperPath  string
	WhisperModel string
	Language     string
}

func (e *ExecTranscriber) Transcribe(ctx context.Context, wavPath, prompt string) (string, error) {
	args := []string{
		"--model", e.WhisperModel,
		"--no-timestamps",
		"--threads", "1",
	}
	if e.Language != "" {
		args = append(args, "--language", e.Language)
	}
	if prompt != "" {
		args = append(args, "--prompt", prompt)
	}
	args = append(args, "--file", wavPath)

	cmd := exec.CommandContext(ctx, e.WhisperPath, args...)

	slog.Debug("Executing whisper command",
		"command", cmd.String(),
		"args", cmd.Args)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("Whisper command failed",
				"stderr", string(exitErr.Stderr),
				"exitCode", exitErr.ExitCode())
		}
		return "", fmt.Errorf("whisper execution failed: %w", err)
	}

	slog.Debug("Whisper command output received", "outputLength", len(output))

	return extractText(string(output)), nil
}

// extractText joins whisper's output lines, dropping blanks and [BLANK_AUDIO] markers.
func extractText(output string) string {
	var builder strings.Builder

	for _, line := range strings.Split(output, "\n") {
		text := strings.TrimSpace(line)
		if text == "" || strings.Contains(text, "[BLANK_AUDIO]") {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(" ")
		}
		builder.WriteString(text)
	}

	return builder.String()
}

const (
	defaultWhisperURL     = "http://localhost:8387"
	defaultWhisperModel   = "base"
	defaultWhisperTimeout = 120 * time.Second
)

// HTTPTranscriber talks to a faster-whisper HTTP sidecar.
type HTTPTranscriber struct {
	url      string
	model    string
	language string
	client   *http.Client
}

func NewHTTPTranscriber(url, model, language string, timeout time.Duration) *HTTPTranscriber {
	if url == "" {
		url = defaultWhisperURL
	}
	if model == "" {
		model = defaultWhisperModel
	}
	if timeout == 0 {
		timeout = defaultWhisperTimeout
	}
	return &HTTPTranscriber{
		url:      strings.TrimRight(url, "/"),
		model:    model,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (h *HTTPTranscriber) Transcribe(ctx context.Context, wavPath, prompt string) (string, error) {
	audioData, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filepath.Base(wavPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}

	_ = writer.WriteField("model", h.model)
	if h.language != "" {
		_ = writer.WriteField("language", h.language)
	}
	if prompt != "" {
		_ = writer.WriteField("prompt", prompt)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/transcribe", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}
