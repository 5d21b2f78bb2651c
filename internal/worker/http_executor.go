package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/Konveyer/internal/domain"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPExecutor — executor для задачи типа "http".
//
// Выполняет HTTP-запрос на основе rendered config.
//
// Config:
//   - method (string): HTTP-метод (GET, POST, PUT, DELETE). Default: GET
//   - url (string): URL для запроса (обязательно)
//   - headers (map[string]any): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON)
//
// Outputs:
//   - status_code (int): HTTP-код ответа
//   - headers (map[string]string): заголовки ответа
//   - body (any): тело ответа (JSON или строка)
type HTTPExecutor struct {
	// Client — HTTP-клиент. nil — используется http.DefaultClient.
	Client *http.Client
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, ti *domain.TaskInstance, logw io.Writer) (*ExecutionResult, error) {
	config := ti.RenderedConfig

	method := getString(config, "method", "GET")
	url := getString(config, "url", "")
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrHTTPRequest)
	}

	var bodyReader io.Reader
	if body, ok := config["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrHTTPRequest, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrHTTPRequest, err)
	}

	setHeaders(req, config)

	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	fmt.Fprintf(logw, "%s %s\n", method, url)

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(logw, "request failed: %v\n", err)
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	fmt.Fprintf(logw, "response: %d (%d bytes)\n", resp.StatusCode, len(respBody))

	outputs := buildOutputs(resp, respBody)

	// HTTP >= 400 — логическая ошибка
	// (outputs сохраняются: status_code нужен для retry on_status)
	if resp.StatusCode >= 400 {
		errMsg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		return &ExecutionResult{
			Outputs: outputs,
			Error:   errMsg,
		}, nil
	}

	return &ExecutionResult{Outputs: outputs}, nil
}

// buildOutputs формирует outputs из HTTP-ответа.
func buildOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// Пробуем JSON, иначе строка
	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// setHeaders устанавливает заголовки из config.
func setHeaders(req *http.Request, config map[string]any) {
	headers, ok := config["headers"]
	if !ok || headers == nil {
		return
	}

	switch h := headers.(type) {
	case map[string]any:
		for key, val := range h {
			if s, ok := val.(string); ok {
				req.Header.Set(key, s)
			}
		}
	case map[string]string:
		for key, val := range h {
			req.Header.Set(key, val)
		}
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
