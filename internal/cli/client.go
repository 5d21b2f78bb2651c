package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DagResponse — dag из API.
type DagResponse struct {
	DagID          string `json:"dag_id"`
	Description    string `json:"description,omitempty"`
	IsPaused       bool   `json:"is_paused"`
	IsActive       bool   `json:"is_active"`
	CronExpr       string `json:"cron_expr,omitempty"`
	IntervalSec    int    `json:"interval_sec,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	MaxActiveRuns  int    `json:"max_active_runs,omitempty"`
	MaxActiveTasks int    `json:"max_active_tasks,omitempty"`
	NextDueAt      string `json:"next_due_at,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// DagVersionResponse — версия dag из API.
type DagVersionResponse struct {
	DagID     string         `json:"dag_id"`
	Version   int            `json:"version"`
	Spec      map[string]any `json:"spec"`
	CreatedAt string         `json:"created_at"`
}

// DagRunResponse — run из API.
type DagRunResponse struct {
	DagID             string         `json:"dag_id"`
	RunID             string         `json:"run_id"`
	Version           int            `json:"version"`
	State             string         `json:"state"`
	RunType           string         `json:"run_type"`
	LogicalDate       string         `json:"logical_date"`
	DataIntervalStart string         `json:"data_interval_start"`
	DataIntervalEnd   string         `json:"data_interval_end"`
	Conf              map[string]any `json:"conf,omitempty"`
	StartedAt         string         `json:"started_at,omitempty"`
	FinishedAt        string         `json:"finished_at,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// TaskInstanceResponse — task instance из API.
type TaskInstanceResponse struct {
	DagID          string         `json:"dag_id"`
	RunID          string         `json:"run_id"`
	TaskID         string         `json:"task_id"`
	MapIndex       int            `json:"map_index"`
	TryNumber      int            `json:"try_number"`
	MaxTries       int            `json:"max_tries"`
	State          string         `json:"state"`
	Pool           string         `json:"pool"`
	PriorityWeight int            `json:"priority_weight"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	Hostname       string         `json:"hostname,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// LogContentResponse — лог попытки из API.
type LogContentResponse struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	TryNumber int    `json:"try_number"`
}

// ExtraLinkResponse — отрендеренная внешняя ссылка из API.
type ExtraLinkResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PoolResponse — пул из API.
type PoolResponse struct {
	Name          string `json:"name"`
	Slots         int    `json:"slots"`
	OccupiedSlots int    `json:"occupied_slots"`
	OpenSlots     int    `json:"open_slots"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// --- Request types ---

// CreateDagRequest — регистрация dag.
type CreateDagRequest struct {
	DagID          string          `json:"dag_id"`
	Description    string          `json:"description,omitempty"`
	CronExpr       string          `json:"cron_expr,omitempty"`
	IntervalSec    int             `json:"interval_sec,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
	MaxActiveRuns  int             `json:"max_active_runs,omitempty"`
	MaxActiveTasks int             `json:"max_active_tasks,omitempty"`
	IsPaused       bool            `json:"is_paused,omitempty"`
	Spec           json.RawMessage `json:"spec"`
}

// UpdateDagRequest — частичное обновление dag.
type UpdateDagRequest struct {
	Description    *string `json:"description,omitempty"`
	IsPaused       *bool   `json:"is_paused,omitempty"`
	CronExpr       *string `json:"cron_expr,omitempty"`
	IntervalSec    *int    `json:"interval_sec,omitempty"`
	Timezone       *string `json:"timezone,omitempty"`
	MaxActiveRuns  *int    `json:"max_active_runs,omitempty"`
	MaxActiveTasks *int    `json:"max_active_tasks,omitempty"`
}

// TriggerRunRequest — ручной запуск dag.
type TriggerRunRequest struct {
	RunID       string         `json:"run_id,omitempty"`
	LogicalDate *time.Time     `json:"logical_date,omitempty"`
	Conf        map[string]any `json:"conf,omitempty"`
}

// CreatePoolRequest — создание пула.
type CreatePoolRequest struct {
	Name        string `json:"name"`
	Slots       int    `json:"slots"`
	Description string `json:"description,omitempty"`
}

// UpdatePoolRequest — обновление пула.
type UpdatePoolRequest struct {
	Slots       *int    `json:"slots,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ListDagsOpts — параметры фильтрации dags.
type ListDagsOpts struct {
	IsPaused *bool
	Limit    int
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	State string
	Limit int
}

// LogsOpts — параметры запроса лога попытки.
type LogsOpts struct {
	MapIndex    int
	TryNumber   int
	FullContent bool
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data         json.RawMessage `json:"data"`
	TotalEntries int             `json:"total_entries"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Konveyer API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Dags ---

// ListDags возвращает dags с фильтрацией.
func (c *Client) ListDags(opts ListDagsOpts) ([]DagResponse, error) {
	params := url.Values{}
	if opts.IsPaused != nil {
		params.Set("is_paused", fmt.Sprintf("%t", *opts.IsPaused))
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var dags []DagResponse
	err := c.list("/api/v1/dags", params, &dags)
	return dags, err
}

// CreateDag регистрирует новый dag.
func (c *Client) CreateDag(req CreateDagRequest) (*DagResponse, error) {
	var dag DagResponse
	err := c.post("/api/v1/dags", req, &dag)
	return &dag, err
}

// GetDag возвращает dag по ID.
func (c *Client) GetDag(dagID string) (*DagResponse, error) {
	var dag DagResponse
	err := c.get("/api/v1/dags/"+dagID, &dag)
	return &dag, err
}

// UpdateDag частично обновляет dag.
func (c *Client) UpdateDag(dagID string, req UpdateDagRequest) (*DagResponse, error) {
	var dag DagResponse
	err := c.patch("/api/v1/dags/"+dagID, req, &dag)
	return &dag, err
}

// SetPaused ставит dag на паузу или снимает с неё.
func (c *Client) SetPaused(dagID string, paused bool) (*DagResponse, error) {
	return c.UpdateDag(dagID, UpdateDagRequest{IsPaused: &paused})
}

// ListVersions возвращает версии dag.
func (c *Client) ListVersions(dagID string) ([]DagVersionResponse, error) {
	var versions []DagVersionResponse
	err := c.list("/api/v1/dags/"+dagID+"/versions", nil, &versions)
	return versions, err
}

// CreateVersion создаёт новую версию спецификации dag.
func (c *Client) CreateVersion(dagID string, spec json.RawMessage) (*DagVersionResponse, error) {
	body := map[string]json.RawMessage{"spec": spec}
	var version DagVersionResponse
	err := c.post("/api/v1/dags/"+dagID+"/versions", body, &version)
	return &version, err
}

// --- Runs ---

// ListRuns возвращает запуски dag с фильтрацией.
func (c *Client) ListRuns(dagID string, opts ListRunsOpts) ([]DagRunResponse, error) {
	params := url.Values{}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []DagRunResponse
	err := c.list("/api/v1/dags/"+dagID+"/runs", params, &runs)
	return runs, err
}

// TriggerRun создаёт ручной запуск dag.
func (c *Client) TriggerRun(dagID string, req TriggerRunRequest) (*DagRunResponse, error) {
	var run DagRunResponse
	err := c.post("/api/v1/dags/"+dagID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run.
func (c *Client) GetRun(dagID, runID string) (*DagRunResponse, error) {
	var run DagRunResponse
	err := c.get("/api/v1/dags/"+dagID+"/runs/"+runID, &run)
	return &run, err
}

// CancelRun останавливает run.
func (c *Client) CancelRun(dagID, runID string) (*DagRunResponse, error) {
	var run DagRunResponse
	err := c.post("/api/v1/dags/"+dagID+"/runs/"+runID+"/cancel", nil, &run)
	return &run, err
}

// --- Task Instances ---

// ListInstances возвращает task instances запуска.
func (c *Client) ListInstances(dagID, runID string) ([]TaskInstanceResponse, error) {
	var instances []TaskInstanceResponse
	err := c.list("/api/v1/dags/"+dagID+"/runs/"+runID+"/instances", nil, &instances)
	return instances, err
}

// GetInstance возвращает task instance.
func (c *Client) GetInstance(dagID, runID, taskID string, mapIndex int) (*TaskInstanceResponse, error) {
	params := url.Values{}
	params.Set("map_index", fmt.Sprintf("%d", mapIndex))

	var ti TaskInstanceResponse
	err := c.get(instancePath(dagID, runID, taskID)+"?"+params.Encode(), &ti)
	return &ti, err
}

// GetLogs возвращает лог попытки task instance.
func (c *Client) GetLogs(dagID, runID, taskID string, opts LogsOpts) (*LogContentResponse, error) {
	params := url.Values{}
	params.Set("map_index", fmt.Sprintf("%d", opts.MapIndex))
	if opts.TryNumber > 0 {
		params.Set("try_number", fmt.Sprintf("%d", opts.TryNumber))
	}
	if opts.FullContent {
		params.Set("full_content", "true")
	}

	var content LogContentResponse
	err := c.get(instancePath(dagID, runID, taskID)+"/logs?"+params.Encode(), &content)
	return &content, err
}

// GetRendered возвращает снапшот отрендеренной конфигурации.
func (c *Client) GetRendered(dagID, runID, taskID string, mapIndex int) (map[string]any, error) {
	params := url.Values{}
	params.Set("map_index", fmt.Sprintf("%d", mapIndex))

	var rendered map[string]any
	err := c.get(instancePath(dagID, runID, taskID)+"/rendered?"+params.Encode(), &rendered)
	return rendered, err
}

// ListLinks возвращает имена внешних ссылок задачи.
func (c *Client) ListLinks(dagID, runID, taskID string) ([]string, error) {
	var names []string
	err := c.list(instancePath(dagID, runID, taskID)+"/links", nil, &names)
	return names, err
}

// ResolveLink рендерит именованную внешнюю ссылку.
func (c *Client) ResolveLink(dagID, runID, taskID, name string, mapIndex int) (*ExtraLinkResponse, error) {
	params := url.Values{}
	params.Set("map_index", fmt.Sprintf("%d", mapIndex))

	var link ExtraLinkResponse
	err := c.get(instancePath(dagID, runID, taskID)+"/links/"+name+"?"+params.Encode(), &link)
	return &link, err
}

func instancePath(dagID, runID, taskID string) string {
	return "/api/v1/dags/" + dagID + "/runs/" + runID + "/instances/" + taskID
}

// --- Pools ---

// ListPools возвращает все пулы.
func (c *Client) ListPools() ([]PoolResponse, error) {
	var pools []PoolResponse
	err := c.list("/api/v1/pools", nil, &pools)
	return pools, err
}

// CreatePool создаёт пул.
func (c *Client) CreatePool(req CreatePoolRequest) (*PoolResponse, error) {
	var pool PoolResponse
	err := c.post("/api/v1/pools", req, &pool)
	return &pool, err
}

// GetPool возвращает пул по имени.
func (c *Client) GetPool(name string) (*PoolResponse, error) {
	var pool PoolResponse
	err := c.get("/api/v1/pools/"+name, &pool)
	return &pool, err
}

// UpdatePool обновляет пул.
func (c *Client) UpdatePool(name string, req UpdatePoolRequest) (*PoolResponse, error) {
	var pool PoolResponse
	err := c.patch("/api/v1/pools/"+name, req, &pool)
	return &pool, err
}

// DeletePool удаляет пул.
func (c *Client) DeletePool(name string) error {
	return c.delete("/api/v1/pools/" + name)
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) patch(path string, body any, result any) error {
	return c.doData(http.MethodPatch, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode)}
	}

	return &APIError{Code: er.Error.Code, Message: er.Error.Message}
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// IsNotFound возвращает true для ошибки NOT_FOUND.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND"
}
