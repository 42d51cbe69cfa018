package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/llama-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama streams chat replies from an Ollama server. Every Send issues exactly one request carrying the
// whole conversation, and reads the newline-delimited JSON answer record by record.
type Ollama struct {
	chatURL string

	httpClient *http.Client
	client     *api.Client

	logger *slog.Logger
}

// DefaultOllamaHost is used when neither the configuration nor OLLAMA_HOST names a server.
const DefaultOllamaHost = "http://localhost:11434"

const maxErrorBody = 4 << 10

// NewOllama creates a new Ollama instance talking to the server at host. An empty host falls back to
// DefaultOllamaHost. If httpClient is nil, a client without timeout is used, since replies are streamed
// for as long as the model keeps generating.
func NewOllama(host string, httpClient *http.Client, logger *slog.Logger) (Ollama, error) {
	if host == "" {
		host = DefaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: scheme and host are required", host)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return Ollama{
		chatURL:    u.JoinPath("api", "chat").String(),
		httpClient: httpClient,
		client:     api.NewClient(u, httpClient),
		logger:     logger.With(slog.String("module", "ollama")),
	}, nil
}

// Send streams a reply to history from model. onFragment is called with the incremental text of every
// record that carries content, in the order the records arrive. Once the response body ends, onComplete
// is called exactly once with the cumulative text.
//
// ctx is the cancellation token of the request. When it is cancelled, reading stops at the next record
// boundary at the latest, no further callbacks happen and models.ErrCancelled is returned. Failures to
// reach the server, non-success statuses and error records are returned as *models.TransportError.
// Records that cannot be decoded are logged and skipped.
func (o Ollama) Send(
	ctx context.Context,
	model string,
	history []models.OutgoingMessage,
	onFragment func(string),
	onComplete func(string),
) error {
	msgs, err := apiMessages(history)
	if err != nil {
		return fmt.Errorf("error creating ollama messages: %w", err)
	}

	stream := true
	body, err := json.Marshal(api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
	})
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.chatURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.ErrCancelled
		}
		return &models.TransportError{Message: "error sending request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	var full strings.Builder
	r := bufio.NewReader(resp.Body)
	for {
		line, readErr := r.ReadBytes('\n')
		if ctx.Err() != nil {
			return models.ErrCancelled
		}

		if len(line) > 0 {
			frag, ok, err := models.ParseLine(line)
			switch {
			case err != nil:
				o.logger.Warn("Skipping stream record", slog.String(errLoggerKey, err.Error()))
			case !ok:
			case frag.Err != "":
				return &models.TransportError{Message: "error from ollama: " + frag.Err}
			case frag.Content != "":
				full.WriteString(frag.Content)
				onFragment(frag.Content)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return models.ErrCancelled
			}
			return &models.TransportError{Message: "error reading response", Err: readErr}
		}
	}

	onComplete(full.String())
	return nil
}

// Check verifies that the server is up and returns the names in want that are not installed on it. A name
// without a tag matches the model tagged "latest".
func (o Ollama) Check(ctx context.Context, want []string) ([]string, error) {
	if err := o.client.Heartbeat(ctx); err != nil {
		return nil, &models.TransportError{Message: "ollama is not reachable", Err: err}
	}

	list, err := o.client.List(ctx)
	if err != nil {
		return nil, &models.TransportError{Message: "error listing models", Err: err}
	}

	installed := make(map[string]bool, len(list.Models))
	for _, m := range list.Models {
		installed[m.Name] = true
		installed[m.Model] = true
	}

	var missing []string
	for _, name := range want {
		if installed[name] {
			continue
		}
		if !strings.Contains(name, ":") && installed[name+":latest"] {
			continue
		}
		missing = append(missing, name)
	}
	return missing, nil
}

func apiMessages(history []models.OutgoingMessage) ([]api.Message, error) {
	msgs := make([]api.Message, len(history))
	for i, msg := range history {
		msgs[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for j, img := range msg.Images {
			data, err := base64.StdEncoding.DecodeString(img)
			if err != nil {
				return nil, fmt.Errorf("image %d of message %d is not valid base64: %w", j, i, err)
			}
			msgs[i].Images = append(msgs[i].Images, api.ImageData(data))
		}
	}
	return msgs, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(body))
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	if msg == "" {
		msg = resp.Status
	}

	return &models.TransportError{
		StatusCode: resp.StatusCode,
		Message:    "ollama responded with an error: " + msg,
	}
}
