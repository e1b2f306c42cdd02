package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func passing(name string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error { return errors.New(msg) }}
}

func call(t *testing.T, h http.HandlerFunc, path string) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", path, nil))

	var rep report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(failing("archive", "down"))

	code, rep := call(t, h.Healthz, "/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q, want %q", rep.Status, "ok")
	}
	if len(rep.Checks) != 0 {
		t.Errorf("liveness ran %d checks, want 0", len(rep.Checks))
	}
}

func TestHealthz_ContentType(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()
	h := New(passing("archive"), passing("transport"))

	code, rep := call(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q, want %q", rep.Status, "ok")
	}
	for _, name := range []string{"archive", "transport"} {
		res, ok := rep.Checks[name]
		if !ok {
			t.Fatalf("check %q missing from response", name)
		}
		if res.Status != "ok" {
			t.Errorf("check %q status = %q, want ok", name, res.Status)
		}
		if res.Elapsed == "" {
			t.Errorf("check %q has no elapsed time", name)
		}
	}
}

func TestReadyz_OneFailureIsEnough(t *testing.T) {
	t.Parallel()
	h := New(failing("archive", "connection refused"), passing("transport"))

	code, rep := call(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if rep.Status != "fail" {
		t.Errorf("body status = %q, want %q", rep.Status, "fail")
	}
	if got := rep.Checks["archive"]; got.Status != "fail" || got.Error != "connection refused" {
		t.Errorf("archive check = %+v, want fail/connection refused", got)
	}
	if got := rep.Checks["transport"]; got.Status != "ok" || got.Error != "" {
		t.Errorf("transport check = %+v, want ok with no error", got)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, rep := call(t, New().Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if rep.Status != "ok" {
		t.Errorf("body status = %q, want %q", rep.Status, "ok")
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Both checks block until the other has started. Sequential evaluation
	// would make one of them report a failure.
	var started atomic.Int32
	blocking := func(_ context.Context) error {
		started.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for started.Load() < 2 {
			if time.Now().After(deadline) {
				return errors.New("peer check never started")
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	}
	h := New(
		Checker{Name: "a", Check: blocking},
		Checker{Name: "b", Check: blocking},
	)

	code, _ := call(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
}

func TestReadyz_RespectsRequestCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(passing("archive")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
