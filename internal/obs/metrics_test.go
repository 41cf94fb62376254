package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetReady(t *testing.T) {
	SetReady(true)
	if got := testutil.ToFloat64(ready); got != 1 {
		t.Fatalf("ready = %v, want 1", got)
	}
	SetReady(false)
	if got := testutil.ToFloat64(ready); got != 0 {
		t.Fatalf("ready = %v, want 0", got)
	}
}

func TestCountLockout(t *testing.T) {
	before := testutil.ToFloat64(lockouts)
	CountLockout()
	if got := testutil.ToFloat64(lockouts); got != before+1 {
		t.Fatalf("lockouts = %v, want %v", got, before+1)
	}
}

func TestCountersByLabel(t *testing.T) {
	CountLogin("success")
	CountTokenVerification("expired")
	CountRefreshRotation("invalid")

	if got := testutil.ToFloat64(loginAttempts.WithLabelValues("success")); got < 1 {
		t.Fatalf("login success counter = %v", got)
	}
	if got := testutil.ToFloat64(tokenVerifications.WithLabelValues("expired")); got < 1 {
		t.Fatalf("token expired counter = %v", got)
	}
	if got := testutil.ToFloat64(refreshRotations.WithLabelValues("invalid")); got < 1 {
		t.Fatalf("rotation invalid counter = %v", got)
	}
}

func TestInstrumentPreservesStatus(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
}
