package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifyClaim_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/claims" {
			t.Fatalf("path = %s, want /api/claims", r.URL.Path)
		}

		var n ClaimNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.PositionID != "pos-1" || n.UserID != "user-1" || n.Rewards != 3287.67 {
			t.Fatalf("unexpected notification: %+v", n)
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.NotifyClaim(ctx, ClaimNotification{
		PositionID: "pos-1",
		UserID:     "user-1",
		Rewards:    3287.67,
	})
	if err != nil {
		t.Fatalf("NotifyClaim error: %v", err)
	}
}

func TestNotifyClaim_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.NotifyClaim(ctx, ClaimNotification{PositionID: "pos-1", UserID: "user-1"})
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestNotifyClaim_NotConfigured(t *testing.T) {
	client := NewClient("")

	err := client.NotifyClaim(context.Background(), ClaimNotification{PositionID: "pos-1"})
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
