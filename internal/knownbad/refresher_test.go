package knownbad

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"
)

func TestParseFeedFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			"json string array",
			`["0xAAA", "scam.example"]`,
			[]string{"0xAAA", "scam.example"},
		},
		{
			"json object array",
			`[{"address": "0xBBB", "comment": "drainer"}, {"domain": "phish.example"}]`,
			[]string{"0xBBB", "phish.example"},
		},
		{
			"json object keyed by address",
			`{"0xccc": {"reason": "rug"}, "0xddd": {}}`,
			[]string{"0xccc", "0xddd"},
		},
		{
			"plaintext with comments",
			"# malicious addresses\n0xeee\n\n  0xfff  \n# trailer\n",
			[]string{"0xeee", "0xfff"},
		},
		{
			"empty body",
			"",
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFeed([]byte(tt.body))
			sort.Strings(got)
			want := append([]string(nil), tt.want...)
			sort.Strings(want)
			if len(got) != len(want) {
				t.Fatalf("entries = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("entries = %v, want %v", got, want)
				}
			}
		})
	}
}

func TestRefreshSwapsSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["0xAAA", "0xBBB"]`))
	}))
	defer srv.Close()

	store := NewStore()
	r := NewRefresher(store, RefresherConfig{
		FeedURLs:     []string{srv.URL},
		FetchTimeout: time.Second,
	}, nil)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap := store.Snapshot()
	if snap == nil {
		t.Fatal("refresh did not swap a set in")
	}
	if !snap.Contains("0xaaa") || !snap.Contains("0xBBB") {
		t.Fatalf("set entries = %v", snap.Values())
	}
}

func TestRefreshPartialFeedFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0xaaa\n"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	store := NewStore()
	r := NewRefresher(store, RefresherConfig{
		FeedURLs:     []string{good.URL, bad.URL},
		FetchTimeout: time.Second,
	}, nil)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh with one live feed should succeed: %v", err)
	}
	if snap := store.Snapshot(); snap == nil || !snap.Contains("0xaaa") {
		t.Fatal("surviving feed entries missing")
	}
}

func TestRefreshAllFeedsFailed(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	store := NewStore()
	store.Swap(NewSet([]string{"0xold"}))
	r := NewRefresher(store, RefresherConfig{
		FeedURLs:     []string{bad.URL},
		FetchTimeout: time.Second,
	}, nil)

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected error when every feed fails")
	}
	// The previous snapshot must survive a failed refresh.
	if snap := store.Snapshot(); snap == nil || !snap.Contains("0xold") {
		t.Fatal("failed refresh clobbered the current set")
	}
}

func TestRefreshNoFeedsConfigured(t *testing.T) {
	store := NewStore()
	r := NewRefresher(store, RefresherConfig{}, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh with no feeds: %v", err)
	}
	if store.Snapshot() != nil {
		t.Fatal("no-op refresh must not swap a set in")
	}
}
