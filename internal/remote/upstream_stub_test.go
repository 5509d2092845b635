package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/any-hub/bundlehub/internal/credentials"
	"github.com/any-hub/bundlehub/internal/retry"
)

// upstreamStub 模拟远端服务并记录每次请求，供客户端测试断言 URL 与鉴权头。
type upstreamStub struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Path      string
	RawQuery  string
	User      string
	Pass      string
	UserAgent string
}

func newUpstreamStub(t *testing.T, handler http.HandlerFunc) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		stub.mu.Lock()
		stub.requests = append(stub.requests, recordedRequest{
			Path:      r.URL.Path,
			RawQuery:  r.URL.RawQuery,
			User:      user,
			Pass:      pass,
			UserAgent: r.UserAgent(),
		})
		stub.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *upstreamStub) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

// newTestClient 构造指向 stub 的客户端，退避等待被替换为空操作。
func newTestClient(t *testing.T, stub *upstreamStub, opts Options) *Client {
	t.Helper()
	opts.BaseURL = stub.server.URL + "/api/v1/"
	if opts.Credentials == nil {
		opts.Credentials = credentials.Static{Username: "alice", Key: "s3cret"}
	}
	if opts.Executor == nil {
		opts.Executor = retry.NewExecutor(
			retry.Policy{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
			nil, nil,
			retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
		)
	}
	opts.HTTPClient = NewHTTPClient(5 * time.Second)
	return New(opts)
}
