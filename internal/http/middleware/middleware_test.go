package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/videoqueue-backend/internal/http/response"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/ctxutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	auth := services.NewAuthService(log, "secret", time.Minute)
	user := uuid.New()
	token, err := auth.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	r := gin.New()
	r.Use(NewAuthMiddleware(log, auth).RequireAuth())
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, ctxutil.UserID(c.Request.Context()).String())
	})

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "bearer", target: "/me", header: "Bearer " + token, want: http.StatusOK},
		{name: "query", target: "/me?token=" + token, want: http.StatusOK},
		{name: "missing", target: "/me", want: http.StatusUnauthorized},
		{name: "bad", target: "/me", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status: got=%d want=%d body=%s", rec.Code, tc.want, rec.Body.String())
			}
			if tc.want == http.StatusOK && rec.Body.String() != user.String() {
				t.Fatalf("user in context: %s", rec.Body.String())
			}
		})
	}
}

func TestRequireCallbackSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireCallbackSignature(logger.Nop(), "cb-secret"))
	r.POST("/cb", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})

	body := `{"job_id":"x"}`
	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/cb", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(HeaderCallbackSignature, sig)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(SignCallback("cb-secret", []byte(body))); rec.Code != http.StatusOK || rec.Body.String() != body {
		t.Fatalf("valid signature: code=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec := send(SignCallback("wrong", []byte(body))); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: code=%d", rec.Code)
	}
	if rec := send(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: code=%d", rec.Code)
	}
}

func TestAttachTraceContextEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/x", func(c *gin.Context) {
		td := ctxutil.GetTraceData(c.Request.Context())
		c.String(http.StatusOK, td.RequestID)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != "req-1" || rec.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("request id: body=%q header=%q", rec.Body.String(), rec.Header().Get("X-Request-Id"))
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("trace id header missing")
	}
}

func TestAttachTraceContextReplacesUnusableRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, ctxutil.GetTraceData(c.Request.Context()).RequestID)
	})

	for _, bad := range []string{strings.Repeat("a", 200), "two words", "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Request-Id", bad)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		got := rec.Body.String()
		if got == bad || got == "" {
			t.Fatalf("request id %q kept: %q", bad, got)
		}
		if _, err := uuid.Parse(got); err != nil || rec.Header().Get("X-Request-Id") != got {
			t.Fatalf("replacement id: body=%q header=%q", got, rec.Header().Get("X-Request-Id"))
		}
	}
}

func TestMetricsRecordsErrorCodesAndSkipsStreamLatency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.NewMetrics()
	r := gin.New()
	r.Use(Metrics(m, "/api/events"))
	r.POST("/api/projects/:id/video-jobs", func(c *gin.Context) {
		response.RespondError(c, http.StatusPaymentRequired, "insufficient_resources", errors.New("insufficient tokens"))
	})
	r.GET("/api/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/projects/"+uuid.NewString()+"/video-jobs", nil),
		httptest.NewRequest(http.MethodGet, "/api/events", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`vq_api_errors_total{code="insufficient_resources",route="/api/projects/:id/video-jobs"} 1`,
		`vq_api_requests_total{method="GET",route="/api/events",status="200"} 1`,
		`vq_api_request_duration_seconds_count{method="POST",route="/api/projects/:id/video-jobs",status="402"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
	if strings.Contains(body, `vq_api_request_duration_seconds_count{method="GET",route="/api/events"`) {
		t.Fatalf("stream route must not be timed")
	}
}
