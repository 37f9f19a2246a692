package mem0

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestSearchScopedByUserAndRun(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/memories/search/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Token key123" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"memory": "likes green tea"},
				{"text": "prefers brief answers"},
				{"score": 0.4},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key123", nil)
	got, err := c.Search(context.Background(), "tea", "u1", "sess1")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"likes green tea", "prefers brief answers"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Search() = %v, want %v", got, want)
	}
	if gotBody["user_id"] != "u1" || gotBody["run_id"] != "sess1" {
		t.Errorf("scope not sent: %v", gotBody)
	}
}

func TestSearchBareArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"memory": "works nights"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	got, err := c.Search(context.Background(), "schedule", "u1", "sess1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "works nights" {
		t.Errorf("Search() = %v", got)
	}
}

func TestAddSendsMessages(t *testing.T) {
	var gotBody addRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/memories/" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	if err := c.Add(context.Background(), "user asked about tea", "u1", "sess1"); err != nil {
		t.Fatal(err)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Content != "user asked about tea" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
	if gotBody.UserID != "u1" || gotBody.RunID != "sess1" {
		t.Errorf("scope = %q %q", gotBody.UserID, gotBody.RunID)
	}
}

func TestClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.URL.Query().Get("user_id"); got != "u1" {
			t.Errorf("user_id = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	if err := c.Clear(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", nil)
	if _, err := c.Search(context.Background(), "q", "u1", "s1"); err == nil {
		t.Error("expected error on 401")
	}
}
