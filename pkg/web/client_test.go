package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teslashibe/go-wrench/pkg/wrench"
)

func TestClient(t *testing.T) {
	d, ctx := startDetector(t)

	cfg := DefaultConfig()
	cfg.Addr = ":18281"
	s, err := NewServer(cfg, d, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	c := NewClient("http://localhost:18281/", 5*time.Second)

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Action != wrench.ActionName {
		t.Errorf("Action = %s, want %s", status.Action, wrench.ActionName)
	}

	info, err := c.SendGoal(ctx, "client-goal", 0)
	if err != nil {
		t.Fatalf("SendGoal: %v", err)
	}
	if info.ID != "client-goal" || info.Status.Terminal() {
		t.Errorf("info = %+v, want an unfinished client-goal", info)
	}

	if _, err := c.SendGoal(ctx, "client-goal", 0); !errors.Is(err, wrench.ErrDuplicateGoal) {
		t.Errorf("duplicate SendGoal = %v, want ErrDuplicateGoal", err)
	}

	d.HandleFrame(wrench.Frame{Source: "test"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err = c.Goal(ctx, "client-goal")
		if err != nil {
			t.Fatalf("Goal: %v", err)
		}
		if info.Status.Terminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if info.Status != wrench.StatusSucceeded {
		t.Fatalf("Status = %s, want succeeded", info.Status)
	}
	if info.Result == nil || info.Result.ROI != wrench.FixedROI() {
		t.Errorf("Result = %+v, want fixed ROI", info.Result)
	}

	if _, err := c.Goal(ctx, "missing"); !errors.Is(err, wrench.ErrGoalNotFound) {
		t.Errorf("Goal(missing) = %v, want ErrGoalNotFound", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://localhost:1", time.Second)
	if _, err := c.Status(context.Background()); err == nil {
		t.Error("Status should fail against a closed port")
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{404, wrench.ErrGoalNotFound},
		{409, wrench.ErrDuplicateGoal},
		{503, wrench.ErrNotRunning},
		{500, nil},
	}

	for _, tt := range tests {
		err := &APIError{StatusCode: tt.code, Message: "x"}
		if got := err.Unwrap(); got != tt.want {
			t.Errorf("Unwrap(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Status(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Message != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("Message = %q, want status text", apiErr.Message)
	}
	if !errors.Is(err, wrench.ErrNotRunning) {
		t.Errorf("error = %v, want ErrNotRunning", err)
	}
}
