package shield

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

const testHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

func TestWithTimeout_PassesThrough(t *testing.T) {
	g := WithTimeout(Static(Passed()), time.Second)
	res, err := g.Evaluate(context.Background(), testHash, intent.Intent{})
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestWithTimeout_SlowGateBlocks(t *testing.T) {
	var sawCancel atomic.Bool
	slow := GateFunc(func(ctx context.Context, _ string, _ intent.Intent) (Result, error) {
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
			return Passed(), nil
		case <-time.After(5 * time.Second):
			return Passed(), nil
		}
	})

	start := time.Now()
	res, err := WithTimeout(slow, 50*time.Millisecond).Evaluate(context.Background(), testHash, intent.Intent{})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, reasons.ShieldTimeout, res.Reason)
	assert.Less(t, time.Since(start), time.Second)
	assert.Eventually(t, sawCancel.Load, time.Second, 10*time.Millisecond)
}

func TestWithTimeout_ErrorAndPanic(t *testing.T) {
	failing := GateFunc(func(context.Context, string, intent.Intent) (Result, error) {
		return Result{}, errors.New("scorer down")
	})
	res, err := WithTimeout(failing, time.Second).Evaluate(context.Background(), testHash, intent.Intent{})
	assert.Error(t, err)
	assert.False(t, res.Pass)

	panicking := GateFunc(func(context.Context, string, intent.Intent) (Result, error) {
		panic("bad scorer")
	})
	res, err = WithTimeout(panicking, time.Second).Evaluate(context.Background(), testHash, intent.Intent{})
	assert.Error(t, err)
	assert.False(t, res.Pass)
}

func TestWithTimeout_NilGate(t *testing.T) {
	res, err := WithTimeout(nil, 0).Evaluate(context.Background(), testHash, intent.Intent{})
	assert.ErrorIs(t, err, ErrNoGate)
	assert.False(t, res.Pass)
}

func TestBlocked_DefaultReason(t *testing.T) {
	assert.Equal(t, reasons.ShieldBlocked, Blocked("").Reason)
	assert.Equal(t, "SANCTIONED_ADDRESS", Blocked("SANCTIONED_ADDRESS").Reason)
}

func newScorer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHTTPGate_PassAndBlock(t *testing.T) {
	url := newScorer(t, func(w http.ResponseWriter, r *http.Request) {
		var req gateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := gateResponse{Decision: "pass"}
		if req.Intent.Recipient == "DGB1-flagged" {
			resp = gateResponse{Decision: "block", Reason: "FLAGGED_RECIPIENT"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	g := NewHTTPGate(HTTPConfig{URL: url}, nil)

	res, err := g.Evaluate(context.Background(), testHash, intent.Intent{Recipient: "DGB1-ok"})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	res, err = g.Evaluate(context.Background(), testHash, intent.Intent{Recipient: "DGB1-flagged"})
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.Equal(t, "FLAGGED_RECIPIENT", res.Reason)
}

func TestHTTPGate_FailClosed(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "oops", http.StatusInternalServerError)
		},
		"garbage body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		},
		"unknown decision": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"decision":"maybe"}`))
		},
		"empty object": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			g := NewHTTPGate(HTTPConfig{URL: newScorer(t, h)}, nil)
			res, _ := g.Evaluate(context.Background(), testHash, intent.Intent{})
			assert.False(t, res.Pass)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		g := NewHTTPGate(HTTPConfig{URL: "http://127.0.0.1:1/score"}, nil)
		res, err := g.Evaluate(context.Background(), testHash, intent.Intent{})
		assert.Error(t, err)
		assert.False(t, res.Pass)
	})
}

func TestHTTPGate_RateLimitRespectsDeadline(t *testing.T) {
	var calls atomic.Int32
	url := newScorer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"decision":"pass"}`))
	})
	g := WithTimeout(NewHTTPGate(HTTPConfig{URL: url, RPS: 0.1, Burst: 1}, nil), 100*time.Millisecond)

	res, err := g.Evaluate(context.Background(), testHash, intent.Intent{})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	res, _ = g.Evaluate(context.Background(), testHash, intent.Intent{})
	assert.False(t, res.Pass, "a call that cannot get a token before the deadline blocks")
	assert.Equal(t, int32(1), calls.Load())
}
