package school

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/school"
	"github.com/school-hub/gradebook/internal/domain/shared"
)

// ErrRateLimiterTimeout is returned when a request waited too long for
// the local rate limiter.
var ErrRateLimiterTimeout = errors.New("timed out waiting for rate limiter")

// TokenSource supplies the current bearer token. An empty token means
// the request goes out unauthenticated (login and register only).
type TokenSource interface {
	Token() string
}

// StaticTokens is a TokenSource for a literal token. Login uses it to
// resolve the identity behind a freshly issued token before any session
// has been established.
type StaticTokens string

// Token returns the literal token.
func (s StaticTokens) Token() string { return string(s) }

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the grade service client.
type ClientConfig struct {
	// BaseURL is the grade service base URL.
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimiterConfig for local request pacing.
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the grade service API client. It attaches the bearer token
// from its TokenSource, classifies every failure into the shared error
// taxonomy, and performs no retries of its own: retry policy belongs to
// the query cache (reads) and the report poller (downloads).
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	mapper      *Mapper
	tokens      TokenSource
}

// NewClient creates a new grade service client.
func NewClient(config ClientConfig, tokens TokenSource) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      config.Logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		mapper:      NewMapper(),
		tokens:      tokens,
	}
}

// WithTokens returns a copy of the client that authenticates with the
// given source. The HTTP client and rate limiter are shared with the
// original.
func (c *Client) WithTokens(tokens TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Login exchanges credentials for a bearer token. The token endpoint is
// form-encoded, not JSON.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &shared.RequestError{Kind: shared.ErrTransport, Op: "Login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token TokenDTO
	if err := c.execute(req, "Login", &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", &shared.RequestError{Kind: shared.ErrServer, Op: "Login",
			Detail: "server returned an empty token"}
	}
	return token.AccessToken, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password, role string) (RegisterResultDTO, error) {
	body := map[string]string{"username": username, "password": password, "role": role}
	var result RegisterResultDTO
	if err := c.doJSON(ctx, http.MethodPost, "/register", body, "Register", &result); err != nil {
		return RegisterResultDTO{}, err
	}
	return result, nil
}

// Me fetches the identity behind the current token.
func (c *Client) Me(ctx context.Context) (MeDTO, error) {
	var me MeDTO
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, "Me", &me); err != nil {
		return MeDTO{}, err
	}
	return me, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Student fetches one student by id.
func (c *Client) Student(ctx context.Context, studentID int) (school.Student, error) {
	var dto StudentDTO
	path := "/students/" + strconv.Itoa(studentID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "GetStudent", &dto); err != nil {
		return school.Student{}, err
	}
	return c.mapper.StudentFromDTO(dto), nil
}

// Students lists students, optionally filtered by class name.
func (c *Client) Students(ctx context.Context, className string) ([]school.Student, error) {
	path := "/students"
	if className != "" {
		params := url.Values{}
		params.Set("class_name", className)
		path += "?" + params.Encode()
	}
	var dtos []StudentDTO
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "ListStudents", &dtos); err != nil {
		return nil, err
	}
	return c.mapper.StudentsFromDTO(dtos), nil
}

// Classes lists all classes.
func (c *Client) Classes(ctx context.Context) ([]school.Class, error) {
	var dtos []ClassDTO
	if err := c.doJSON(ctx, http.MethodGet, "/classes", nil, "ListClasses", &dtos); err != nil {
		return nil, err
	}
	return c.mapper.ClassesFromDTO(dtos), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GradesRequest carries the full parameter tuple of one grade page read.
type GradesRequest struct {
	StudentID int
	Subject   string // empty means all subjects
	SortBy    string // "date", "subject", "score"
	SortOrder string // "asc", "desc"
	Page      int
}

// Grades fetches one page of grades for a student.
func (c *Client) Grades(ctx context.Context, req GradesRequest) (grade.Collection, error) {
	params := url.Values{}
	if req.Subject != "" {
		params.Set("subject", req.Subject)
	}
	if req.SortBy != "" {
		params.Set("sort_by", req.SortBy)
	}
	if req.SortOrder != "" {
		params.Set("sort_order", req.SortOrder)
	}
	if req.Page > 0 {
		params.Set("page", strconv.Itoa(req.Page))
	}

	path := "/grades/" + strconv.Itoa(req.StudentID)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var dto GradeCollectionDTO
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "GetGrades", &dto); err != nil {
		return grade.Collection{}, err
	}
	return c.collection(dto, "GetGrades")
}

// CreateGrade adds a grade and returns the server's full updated
// collection for the affected page.
func (c *Client) CreateGrade(ctx context.Context, body GradeCreateDTO) (grade.Collection, error) {
	var dto GradeCollectionDTO
	if err := c.doJSON(ctx, http.MethodPost, "/grades", body, "CreateGrade", &dto); err != nil {
		return grade.Collection{}, err
	}
	return c.collection(dto, "CreateGrade")
}

// UpdateGrade edits a grade and returns the full updated collection.
func (c *Client) UpdateGrade(ctx context.Context, gradeID int, body GradeUpdateDTO) (grade.Collection, error) {
	var dto GradeCollectionDTO
	path := "/grades/" + strconv.Itoa(gradeID)
	if err := c.doJSON(ctx, http.MethodPut, path, body, "UpdateGrade", &dto); err != nil {
		return grade.Collection{}, err
	}
	return c.collection(dto, "UpdateGrade")
}

// DeleteGrade removes a grade and returns the full updated collection.
func (c *Client) DeleteGrade(ctx context.Context, gradeID int) (grade.Collection, error) {
	var dto GradeCollectionDTO
	path := "/grades/" + strconv.Itoa(gradeID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, "DeleteGrade", &dto); err != nil {
		return grade.Collection{}, err
	}
	return c.collection(dto, "DeleteGrade")
}

func (c *Client) collection(dto GradeCollectionDTO, op string) (grade.Collection, error) {
	if dto.Grades == nil {
		// The one fixed contract: a grades body without the map is a
		// server bug, not a shape to accommodate.
		return grade.Collection{}, &shared.RequestError{Kind: shared.ErrServer, Op: op,
			Detail: "response missing grades map"}
	}
	col, err := c.mapper.CollectionFromDTO(dto)
	if err != nil {
		return grade.Collection{}, &shared.RequestError{Kind: shared.ErrServer, Op: op, Err: err}
	}
	return col, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS AND REPORT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Stats fetches the performance snapshot for a student.
func (c *Client) Stats(ctx context.Context, studentID int) (grade.StatsSnapshot, error) {
	var dto StatsDTO
	path := "/grades/" + strconv.Itoa(studentID) + "/stats"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "GetStats", &dto); err != nil {
		return grade.StatsSnapshot{}, err
	}
	return c.mapper.StatsFromDTO(dto), nil
}

// Reports fetches the report history for a student.
func (c *Client) Reports(ctx context.Context, studentID int) ([]grade.ReportSummary, error) {
	var dtos []ReportSummaryDTO
	path := "/reports/" + strconv.Itoa(studentID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "GetReports", &dtos); err != nil {
		return nil, err
	}
	reports, err := c.mapper.ReportsFromDTO(dtos)
	if err != nil {
		return nil, &shared.RequestError{Kind: shared.ErrServer, Op: "GetReports", Err: err}
	}
	return reports, nil
}

// GenerateReport asks the server to start building a PDF report. The
// artifact is not returned here; it is downloaded by polling.
func (c *Client) GenerateReport(ctx context.Context, studentID int) error {
	path := "/generate-report/" + strconv.Itoa(studentID)
	return c.doJSON(ctx, http.MethodGet, path, nil, "GenerateReport", nil)
}

// DownloadReport attempts to download the generated PDF. A not-found
// response means the report is not ready yet; the poller treats it as a
// retry signal.
func (c *Client) DownloadReport(ctx context.Context, studentID int) ([]byte, error) {
	path := "/download-report/" + strconv.Itoa(studentID)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &shared.RequestError{Kind: shared.ErrTransport, Op: "DownloadReport", Err: err}
	}
	req.Header.Set("Accept", "application/pdf")

	if err := c.rateLimiter.Allow(ctx); err != nil {
		return nil, c.classifyLimiterErr("DownloadReport", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &shared.RequestError{Kind: shared.ErrTransport, Op: "DownloadReport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &shared.RequestError{Kind: shared.ErrTransport, Op: "DownloadReport", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus("DownloadReport", resp.StatusCode, body)
	}
	return body, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// doJSON performs one JSON request. No retries happen here.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, op string, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &shared.RequestError{Kind: shared.ErrTransport, Op: op, Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return &shared.RequestError{Kind: shared.ErrTransport, Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.rateLimiter.Allow(ctx); err != nil {
		return c.classifyLimiterErr(op, err)
	}

	return c.execute(req, op, result)
}

func (c *Client) execute(req *http.Request, op string, result any) error {
	if c.config.Debug {
		c.logger.Debug("school api request", "method", req.Method, "path", req.URL.Path)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &shared.RequestError{Kind: shared.ErrTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &shared.RequestError{Kind: shared.ErrTransport, Op: op, Err: err}
	}

	if c.config.Debug {
		c.logger.Debug("school api response",
			"path", req.URL.Path, "status", resp.StatusCode, "latency", time.Since(start))
	}

	if resp.StatusCode >= 400 {
		return c.classifyStatus(op, resp.StatusCode, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return &shared.RequestError{Kind: shared.ErrServer, Op: op, Status: resp.StatusCode,
				Err: fmt.Errorf("unmarshal response: %w", err)}
		}
	}
	return nil
}

// classifyStatus maps an HTTP error response into the shared taxonomy.
func (c *Client) classifyStatus(op string, status int, body []byte) error {
	detail := ""
	var apiErr APIErrorDTO
	if err := json.Unmarshal(body, &apiErr); err == nil {
		detail = apiErr.Detail
	}

	kind := shared.ErrServer
	switch {
	case status == http.StatusUnauthorized:
		kind = shared.ErrAuth
	case status == http.StatusNotFound:
		kind = shared.ErrNotFound
	case status == http.StatusTooManyRequests:
		kind = shared.ErrRateLimited
	}
	return &shared.RequestError{Kind: kind, Op: op, Status: status, Detail: detail}
}

func (c *Client) classifyLimiterErr(op string, err error) error {
	if errors.Is(err, ErrRateLimiterTimeout) {
		return &shared.RequestError{Kind: shared.ErrRateLimited, Op: op, Err: err}
	}
	return &shared.RequestError{Kind: shared.ErrTransport, Op: op, Err: err}
}
