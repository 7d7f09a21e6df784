package school

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(DefaultClientConfig(srv.URL), StaticTokens(token))
}

func TestClient_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}, "secret-token")

	_, err := client.Classes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestClient_NoAuthHeaderWhenLoggedOut(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}, "")

	_, err := client.Classes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_LoginIsFormEncoded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "anna", r.PostFormValue("username"))
		assert.Equal(t, "pw", r.PostFormValue("password"))
		w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer"}`))
	}, "")

	token, err := client.Login(context.Background(), "anna", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestClient_LoginRejectsEmptyToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":""}`))
	}, "")

	_, err := client.Login(context.Background(), "anna", "pw")
	assert.ErrorIs(t, err, shared.ErrServer)
}

func TestClient_GradesQueryParameters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/grades/7", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Physics", q.Get("subject"))
		assert.Equal(t, "score", q.Get("sort_by"))
		assert.Equal(t, "asc", q.Get("sort_order"))
		assert.Equal(t, "3", q.Get("page"))
		w.Write([]byte(`{"grades":{"Physics":[{"id":1,"subject":"Physics","score":5,"date":"2025-09-01T10:00:00"}]},"total_pages":4}`))
	}, "tok")

	col, err := client.Grades(context.Background(), GradesRequest{
		StudentID: 7, Subject: "Physics", SortBy: "score", SortOrder: "asc", Page: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, col.TotalPages)
	assert.Len(t, col.BySubject[grade.SubjectPhysics], 1)
}

func TestClient_MutationReturnsFullCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/grades", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"grades":{"History":[{"id":11,"subject":"History","score":4,"date":"2025-09-02T08:00:00"}]},"total_pages":1}`))
	}, "tok")

	col, err := client.CreateGrade(context.Background(), GradeCreateDTO{
		StudentID: 7, Subject: "History", Score: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, col.Count())
}

func TestClient_RejectsResponseWithoutGradesMap(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_pages":1}`))
	}, "tok")

	_, err := client.Grades(context.Background(), GradesRequest{StudentID: 7})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServer)

	var reqErr *shared.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Detail, "grades map")
}

func TestClient_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, shared.ErrAuth},
		{http.StatusNotFound, shared.ErrNotFound},
		{http.StatusTooManyRequests, shared.ErrRateLimited},
		{http.StatusInternalServerError, shared.ErrServer},
		{http.StatusBadRequest, shared.ErrServer},
	}

	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"detail":"nope"}`))
		}, "tok")

		_, err := client.Stats(context.Background(), 7)
		require.Error(t, err, "status %d", tc.status)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)

		var reqErr *shared.RequestError
		require.True(t, errors.As(err, &reqErr))
		assert.Equal(t, tc.status, reqErr.Status)
		assert.Equal(t, "nope", reqErr.Detail, "server detail must be preserved")
	}
}

func TestClient_ReportsPath(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// The report history lives under its own top-level resource,
		// not under /grades.
		assert.Equal(t, "/reports/7", r.URL.Path)
		w.Write([]byte(`[{"id":3,"summary":"strong quarter","recommendations":"keep it up","generated_at":"2025-09-03T12:00:00"}]`))
	}, "tok")

	reports, err := client.Reports(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].ID)
	assert.Equal(t, "strong quarter", reports[0].Summary)
}

func TestClient_WithTokensOverridesSource(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"role":"teacher","id":1}`))
	}, "")

	_, err := client.WithTokens(StaticTokens("fresh-token")).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh-token", gotAuth)

	// The original client keeps its own source.
	_, err = client.Me(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_DownloadReportNotReady(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Report not found"}`, http.StatusNotFound)
	}, "tok")

	_, err := client.DownloadReport(context.Background(), 7)
	assert.True(t, shared.IsNotFound(err))
}

func TestClient_DownloadReportBytes(t *testing.T) {
	pdf := []byte("%PDF-1.4 fake")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download-report/7", r.URL.Path)
		w.Write(pdf)
	}, "tok")

	data, err := client.DownloadReport(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, pdf, data)
}

func TestClient_TransportErrorClassified(t *testing.T) {
	client := NewClient(DefaultClientConfig("http://127.0.0.1:1"), StaticTokens("tok"))
	_, err := client.Classes(context.Background())
	assert.ErrorIs(t, err, shared.ErrTransport)
}
