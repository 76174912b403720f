package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/iudanet/pymirror/pkg/api"
)

// ErrUnauthorized возвращается на 401 от сервера
var ErrUnauthorized = errors.New("unauthorized")

const defaultPollInterval = time.Second

// StatusError - ответ сервера с кодом не 2xx
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap позволяет проверять 401 через errors.Is
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetToken задает bearer токен для всех запросов
func (c *Client) SetToken(token string) {
	c.token = token
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// StartSync запускает синхронизацию репозитория
func (c *Client) StartSync(ctx context.Context, req api.SyncRequest) (*api.TaskResponse, error) {
	var resp api.TaskResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/tasks/sync", req, &resp); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	return &resp, nil
}

// GetTask получает состояние задачи
func (c *Client) GetTask(ctx context.Context, id string) (*api.TaskResponse, error) {
	var resp api.TaskResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &resp); err != nil {
		return nil, fmt.Errorf("task request failed: %w", err)
	}
	return &resp, nil
}

// WaitTask опрашивает задачу, пока она не завершится или не истечет ctx
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (*api.TaskResponse, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// UploadParams описывает одну загрузку.
// Если Body == nil, сервер ищет уже сохраненный артефакт по Sha256.
type UploadParams struct {
	Body         io.Reader
	RepositoryID string
	Session      string
	Filename     string
	Sha256       string
}

// Upload загружает файл дистрибутива
func (c *Client) Upload(ctx context.Context, params UploadParams) (*api.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		api.UploadFieldRepositoryID: params.RepositoryID,
		api.UploadFieldSession:      params.Session,
		api.UploadFieldSha256:       params.Sha256,
	}
	if params.Body == nil {
		fields[api.UploadFieldFilename] = params.Filename
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}

	if params.Body != nil {
		part, err := mw.CreateFormFile(api.UploadFieldFile, params.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, params.Body); err != nil {
			return nil, fmt.Errorf("failed to read upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/uploads", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp api.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	return &resp, nil
}

// UploadGroup коммитит сессию загрузок, не дожидаясь окна
func (c *Client) UploadGroup(ctx context.Context, req api.UploadGroupRequest) (*api.TaskResponse, error) {
	var resp api.TaskResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/uploads/group", req, &resp); err != nil {
		return nil, fmt.Errorf("upload group request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос с JSON телом
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

// do отправляет запрос и декодирует JSON ответ
func (c *Client) do(req *http.Request, result interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
