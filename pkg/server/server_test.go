package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/de-tools/account-monitor/pkg/models/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Jobs() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *mockRunner) HasJob(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

func (m *mockRunner) Run(ctx context.Context, name, invocationID string) error {
	args := m.Called(ctx, name, invocationID)
	return args.Error(0)
}

type mockLogins struct {
	mock.Mock
}

func (m *mockLogins) CheckLoginObject(ctx context.Context, invocationID, bucket, key string) error {
	args := m.Called(ctx, invocationID, bucket, key)
	return args.Error(0)
}

func TestWebAPI_Endpoints(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))

	runner := new(mockRunner)
	logins := new(mockLogins)

	config := Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		Dependencies: Dependencies{
			Jobs:   runner,
			Logins: logins,
			Logger: logger,
		},
	}
	router := ConfigureRouter(config)
	testServer := httptest.NewServer(router)
	defer testServer.Close()

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		setupMocks     func()
		expectedStatus int
		expected       interface{}
		parseResponse  func([]byte) (interface{}, error)
	}{
		{
			name:           "Healthz",
			method:         http.MethodGet,
			path:           "/healthz",
			setupMocks:     func() {},
			expectedStatus: http.StatusOK,
			expected:       "ok",
			parseResponse: func(data []byte) (interface{}, error) {
				return string(data), nil
			},
		},
		{
			name:   "ListJobs",
			method: http.MethodGet,
			path:   "/api/v1/jobs",
			setupMocks: func() {
				runner.On("Jobs").Return([]string{"cfn-drift-checker", "iam-checker"})
			},
			expectedStatus: http.StatusOK,
			expected:       []api.Job{{Name: "cfn-drift-checker"}, {Name: "iam-checker"}},
			parseResponse:  unmarshalResponse[[]api.Job](),
		},
		{
			name:   "RunJob",
			method: http.MethodPost,
			path:   "/api/v1/jobs/iam-checker/run?invocation_id=inv-1",
			setupMocks: func() {
				runner.On("HasJob", "iam-checker").Return(true)
				runner.On("Run", mock.Anything, "iam-checker", "inv-1").Return(nil)
			},
			expectedStatus: http.StatusOK,
			expected:       api.RunResult{Job: "iam-checker", InvocationID: "inv-1", Status: api.StatusSucceeded},
			parseResponse:  unmarshalResponse[api.RunResult](),
		},
		{
			name:   "RunJob_Failed",
			method: http.MethodPost,
			path:   "/api/v1/jobs/spend-checker/run?invocation_id=inv-2",
			setupMocks: func() {
				runner.On("HasJob", "spend-checker").Return(true)
				runner.On("Run", mock.Anything, "spend-checker", "inv-2").Return(fmt.Errorf("no budget"))
			},
			expectedStatus: http.StatusInternalServerError,
			expected: api.RunResult{
				Job:          "spend-checker",
				InvocationID: "inv-2",
				Status:       api.StatusFailed,
				Error:        "no budget",
			},
			parseResponse: unmarshalResponse[api.RunResult](),
		},
		{
			name:   "RunJob_Unknown",
			method: http.MethodPost,
			path:   "/api/v1/jobs/nope/run",
			setupMocks: func() {
				runner.On("HasJob", "nope").Return(false)
			},
			expectedStatus: http.StatusNotFound,
			expected:       "job not found\n",
			parseResponse: func(data []byte) (interface{}, error) {
				return string(data), nil
			},
		},
		{
			name:   "CheckLogin",
			method: http.MethodPost,
			path:   "/api/v1/login-checks?invocation_id=inv-3",
			body:   `{"bucket":"trail-bucket","key":"AWSLogs/1.json.gz"}`,
			setupMocks: func() {
				logins.On("CheckLoginObject", mock.Anything, "inv-3", "trail-bucket", "AWSLogs/1.json.gz").Return(nil)
			},
			expectedStatus: http.StatusOK,
			expected:       api.RunResult{Job: "login-checker", InvocationID: "inv-3", Status: api.StatusSucceeded},
			parseResponse:  unmarshalResponse[api.RunResult](),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()
			req, err := http.NewRequest(tc.method, testServer.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err, "Failed to send request")
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "Status code mismatch")

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err, "Failed to read response body")

			actual, err := tc.parseResponse(body)
			require.NoError(t, err, "Failed to parse response")

			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestRunJob_DefaultsInvocationIDToRequestID(t *testing.T) {
	runner := new(mockRunner)
	runner.On("HasJob", "uptime-checker").Return(true)
	runner.On("Run", mock.Anything, "uptime-checker", "req-7").Return(nil)

	router := ConfigureRouter(Config{Dependencies: Dependencies{Jobs: runner, Logins: new(mockLogins), Logger: zerolog.Nop()}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/uptime-checker/run", nil)
	req.Header.Set("X-Request-Id", "req-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	runner.AssertExpectations(t)
}

func unmarshalResponse[T any]() func([]byte) (interface{}, error) {
	return func(data []byte) (interface{}, error) {
		var response T
		err := json.Unmarshal(data, &response)
		return response, err
	}
}
