package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/erase"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/journal"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/mocks"
)

// -- Test Helpers --

type mockEraser struct {
	mock.Mock
}

func (m *mockEraser) Erase(ctx context.Context, req erase.Request) (*erase.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*erase.Result), args.Error(1)
}

func (m *mockEraser) Status(ctx context.Context, token string) (schemas.VendorResponse, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.VendorResponse), args.Error(1)
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func imgAndMask() []part {
	return []part{
		{"img", "photo.png", "image/png", []byte("PNGDATA")},
		{"mask", "mask.png", "image/png", []byte("MASK")},
	}
}

func newTestServer(t *testing.T, cfg Config, withJournal bool) (*Server, *mockEraser, *mocks.MockJournal) {
	t.Helper()
	eraser := new(mockEraser)
	var j *mocks.MockJournal
	var s *Server
	if withJournal {
		j = new(mocks.MockJournal)
		s = New(cfg, eraser, j, zaptest.NewLogger(t))
		t.Cleanup(func() { j.AssertExpectations(t) })
	} else {
		s = New(cfg, eraser, nil, zaptest.NewLogger(t))
	}
	t.Cleanup(func() { eraser.AssertExpectations(t) })
	return s, eraser, j
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Detail
}

// -- Test Cases --

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, Config{}, false)
	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEraseEndpoint(t *testing.T) {
	s, eraser, _ := newTestServer(t, Config{}, false)

	eraser.On("Erase", mock.Anything, mock.MatchedBy(func(req erase.Request) bool {
		return req.IP == "198.51.100.4" &&
			req.UserAgent == "test-agent" &&
			string(req.Image.Data) == "PNGDATA" &&
			req.Image.Filename == "photo.png" &&
			req.Image.ContentType == "image/png" &&
			req.Mask != nil && string(req.Mask.Data) == "MASK"
	})).Return(&erase.Result{Token: "abc123", Message: erase.SubmittedMessage, DeviceID: "secret"}, nil)

	body, ct := multipartBody(t, imgAndMask()...)
	req := httptest.NewRequest(http.MethodPost, "/api/erase", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")

	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"token":"abc123","message":"`+erase.SubmittedMessage+`"}`, rec.Body.String())
}

func TestEraseEndpointValidation(t *testing.T) {
	t.Run("missing mask", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{}, false)
		body, ct := multipartBody(t, imgAndMask()[0])
		req := httptest.NewRequest(http.MethodPost, "/api/erase", body)
		req.Header.Set("Content-Type", ct)

		rec := do(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "mask file is required", detail(t, rec))
	})

	t.Run("not multipart", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{}, false)
		req := httptest.NewRequest(http.MethodPost, "/api/erase", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")

		rec := do(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("body over the limit", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{MaxUploadBytes: 64}, false)
		big := imgAndMask()
		big[0].data = bytes.Repeat([]byte("x"), 4096)
		body, ct := multipartBody(t, big...)
		req := httptest.NewRequest(http.MethodPost, "/api/erase", body)
		req.Header.Set("Content-Type", ct)

		rec := do(s, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("service error kinds map to status codes", func(t *testing.T) {
		testCases := []struct {
			err  *erase.Error
			code int
		}{
			{&erase.Error{Kind: erase.KindInvalid, Message: "unsupported image type"}, http.StatusBadRequest},
			{&erase.Error{Kind: erase.KindTooLarge, Message: "file too large"}, http.StatusRequestEntityTooLarge},
			{&erase.Error{Kind: erase.KindUpstream, Message: "remote service rejected the upload: quota exceeded"}, http.StatusBadGateway},
			{&erase.Error{Kind: erase.KindInternal, Message: "failed to sign upload"}, http.StatusInternalServerError},
		}
		for _, tc := range testCases {
			s, eraser, _ := newTestServer(t, Config{}, false)
			eraser.On("Erase", mock.Anything, mock.Anything).Return(nil, tc.err)

			body, ct := multipartBody(t, imgAndMask()...)
			req := httptest.NewRequest(http.MethodPost, "/api/erase", body)
			req.Header.Set("Content-Type", ct)

			rec := do(s, req)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.err.Message, detail(t, rec))
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	t.Run("passes the vendor reply through", func(t *testing.T) {
		s, eraser, _ := newTestServer(t, Config{}, false)
		eraser.On("Status", mock.Anything, "abc123").
			Return(schemas.VendorResponse{"status": "200", "data": map[string]interface{}{"url": "https://cdn/r.png"}}, nil)

		rec := do(s, httptest.NewRequest(http.MethodPost, "/api/erase/status", strings.NewReader(`{"token":"abc123"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"200","data":{"url":"https://cdn/r.png"}}`, rec.Body.String())
	})

	t.Run("bad input", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{}, false)
		rec := do(s, httptest.NewRequest(http.MethodPost, "/api/erase/status", strings.NewReader(`not json`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(s, httptest.NewRequest(http.MethodPost, "/api/erase/status", strings.NewReader(`{"token":"  "}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "token is required", detail(t, rec))
	})

	t.Run("upstream failure", func(t *testing.T) {
		s, eraser, _ := newTestServer(t, Config{}, false)
		eraser.On("Status", mock.Anything, "tok").
			Return(nil, &erase.Error{Kind: erase.KindUpstream, Message: "remote status query failed"})

		rec := do(s, httptest.NewRequest(http.MethodPost, "/api/erase/status", strings.NewReader(`{"token":"tok"}`)))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "remote status query failed", detail(t, rec))
	})
}

func TestJournalEndpoints(t *testing.T) {
	t.Run("stats", func(t *testing.T) {
		s, _, j := newTestServer(t, Config{}, true)
		j.On("Statistics", mock.Anything).Return(schemas.CallStats{TotalCalls: 4, SuccessCalls: 1, UniqueIPs: 2, TodayCalls: 1, SuccessRate: "25.00%"}, nil)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"total_calls":4,"success_calls":1,"unique_ips":2,"today_calls":1,"success_rate":"25.00%"}`, rec.Body.String())
	})

	t.Run("calls by ip and recent", func(t *testing.T) {
		s, _, j := newTestServer(t, Config{}, true)
		j.On("ByIP", mock.Anything, "10.0.0.1", 5).Return([]schemas.CallRecord{{ID: 1, Token: "a"}}, nil)
		j.On("Recent", mock.Anything, 0).Return([]schemas.CallRecord{}, nil)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/calls?ip=10.0.0.1&limit=5", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var calls []schemas.CallRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
		require.Len(t, calls, 1)
		assert.Equal(t, "a", calls[0].Token)

		rec = do(s, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())

		rec = do(s, httptest.NewRequest(http.MethodGet, "/api/calls?limit=abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("call by token", func(t *testing.T) {
		s, _, j := newTestServer(t, Config{}, true)
		j.On("ByToken", mock.Anything, "abc").Return(&schemas.CallRecord{ID: 3, Token: "abc", ImageData: []byte("hidden")}, nil)
		j.On("ByToken", mock.Anything, "nope").Return(nil, journal.ErrNotFound)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/calls/abc", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "hidden")

		rec = do(s, httptest.NewRequest(http.MethodGet, "/api/calls/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("image", func(t *testing.T) {
		s, _, j := newTestServer(t, Config{}, true)
		j.On("ImageByToken", mock.Anything, "abc").Return(&schemas.StoredImage{Data: []byte("IMG"), ContentType: "image/webp", Filename: "a.webp"}, nil)
		j.On("ImageByToken", mock.Anything, "gone").Return(nil, journal.ErrNotFound)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/calls/abc/image", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
		assert.Equal(t, `inline; filename="a.webp"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "IMG", rec.Body.String())

		rec = do(s, httptest.NewRequest(http.MethodGet, "/api/calls/gone/image", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("image by record id", func(t *testing.T) {
		s, _, j := newTestServer(t, Config{}, true)
		j.On("ImageByID", mock.Anything, int64(7)).Return(&schemas.StoredImage{Data: []byte("\x89PNG\r\n\x1a\n")}, nil)
		j.On("ImageByID", mock.Anything, int64(8)).Return(nil, journal.ErrNotFound)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/images/7", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"), "sniffed when no type was stored")
		assert.Empty(t, rec.Header().Get("Content-Disposition"))

		rec = do(s, httptest.NewRequest(http.MethodGet, "/api/images/8", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		for _, bad := range []string{"abc", "0", "-3"} {
			rec = do(s, httptest.NewRequest(http.MethodGet, "/api/images/"+bad, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		}
	})

	t.Run("journal failure is a 500", func(t *testing.T) {
		s, _, j := newTestServer(t, Config{}, true)
		j.On("Statistics", mock.Anything).Return(schemas.CallStats{}, assert.AnError)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal server error", detail(t, rec))
	})

	t.Run("journal disabled", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{}, false)
		for _, path := range []string{"/api/stats", "/api/calls", "/api/calls/x", "/api/calls/x/image", "/api/images/1"} {
			rec := do(s, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		}
	})
}

func TestRateLimit(t *testing.T) {
	s, eraser, _ := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 1}, false)
	eraser.On("Status", mock.Anything, "tok").Return(schemas.VendorResponse{"status": "200"}, nil)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/erase/status", strings.NewReader(`{"token":"tok"}`))
		req.Header.Set("X-Real-IP", ip)
		return do(s, req).Code
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1"))
	assert.Equal(t, http.StatusOK, send("192.0.2.2"), "buckets are per client")

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are never limited")
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, Config{}, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/erase", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := do(s, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 1.1.1.1 , 2.2.2.2", "X-Real-IP": "3.3.3.3"}, "4.4.4.4:1000", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": " 3.3.3.3 "}, "4.4.4.4:1000", "3.3.3.3"},
		{"remote addr", nil, "4.4.4.4:1000", "4.4.4.4"},
		{"remote addr without port", nil, "4.4.4.4", "4.4.4.4"},
		{"nothing", nil, "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}

func TestMultiLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	m := newMultiLimiter(rate.Limit(1), 1, time.Minute)
	m.now = func() time.Time { return now }

	assert.True(t, m.allow("a"))
	assert.False(t, m.allow("a"))
	assert.True(t, m.allow("b"))
	assert.Equal(t, 2, m.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, m.allow("b"))
	assert.Equal(t, 1, m.size(), "a was idle past the ttl")
}

func TestMultiLimiterSweepsOncePerTTL(t *testing.T) {
	start := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	now := start
	m := newMultiLimiter(rate.Limit(1), 1, time.Minute)
	m.now = func() time.Time { return now }

	at := func(offset time.Duration, key string) {
		now = start.Add(offset)
		m.allow(key)
	}

	at(0, "a")
	at(30*time.Second, "b")
	at(61*time.Second, "c")
	assert.Equal(t, 2, m.size(), "the sweep at 61s drops a only")

	at(100*time.Second, "c")
	assert.Equal(t, 2, m.size(), "b is stale but the next sweep is not due")

	at(121*time.Second, "c")
	assert.Equal(t, 1, m.size())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ShutdownTimeout: time.Second}, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
