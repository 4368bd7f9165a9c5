package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// requestTimeout bounds any single generate request, including the time
// spent reading the streamed body. Large models can take minutes to load.
const requestTimeout = 300 * time.Second

// FailureMarker prefixes the single fragment emitted when a generate
// request fails. Answers containing it are never persisted to history.
const FailureMarker = "❌"

// RefusalSentence is the fixed reply the model is instructed to give when
// the answer is not present in the supplied context.
const RefusalSentence = "The answer is not available in the provided document."

const promptTemplate = `You are a helpful assistant. Answer the question using ONLY the context provided. If the answer is not in the context, say '%s'

Context:
%s

Question:
%s

Answer:`

// OllamaClient streams answers from the Ollama /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient constructs a client for the given base URL and model.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Ask sends question plus document context to the model and returns a
// channel of answer fragments, delivered as the endpoint produces them.
// The channel is closed when the stream ends. On connection failure,
// timeout, or a non-success status the channel yields exactly one
// human-readable fragment prefixed with FailureMarker and then closes;
// errors are never propagated to the caller directly. The stream is
// single-pass: the caller must drain the channel to completion.
func (c *OllamaClient) Ask(ctx context.Context, question, contextText string) <-chan string {
	fragments := make(chan string)
	prompt := fmt.Sprintf(promptTemplate, RefusalSentence, contextText, question)
	go func() {
		defer close(fragments)

		body, err := json.Marshal(generateRequest{
			Model:  c.model,
			Prompt: prompt,
			Stream: true,
		})
		if err != nil {
			fragments <- fmt.Sprintf("%s Failed to encode request: %v", FailureMarker, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			fragments <- fmt.Sprintf("%s Failed to build request: %v", FailureMarker, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			fragments <- failureFragment(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			fragments <- fmt.Sprintf("%s Ollama error %d: %s", FailureMarker, resp.StatusCode, strings.TrimSpace(string(detail)))
			return
		}

		// The endpoint emits one JSON record per line; each record carries
		// a fragment of the answer. Decode and forward each line as it
		// arrives instead of buffering the full answer.
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				fragments <- fmt.Sprintf("%s Malformed response from Ollama: %v", FailureMarker, err)
				return
			}
			if chunk.Response != "" {
				fragments <- chunk.Response
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			fragments <- failureFragment(err)
		}
	}()
	return fragments
}

// IsFailure reports whether a concatenated answer contains the failure
// marker and therefore must not be persisted.
func IsFailure(answer string) bool {
	return strings.Contains(answer, FailureMarker)
}

func failureFragment(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return FailureMarker + " Ollama connection timed out. The model may be taking too long to load. Please try again."
	}
	return fmt.Sprintf("%s Failed to connect to Ollama. Is it running? Error: %v", FailureMarker, err)
}
