package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func postJSON(s *server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("No session cookie set")
	return nil
}

func TestSignupAndLogin(t *testing.T) {
	s := &server{store: newTestStore(t)}

	req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader("name=Alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handleSignup(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var signup signupResponse
	if err := json.NewDecoder(rec.Body).Decode(&signup); err != nil {
		t.Fatal(err)
	}
	if signup.Name != "Alice" || len(signup.SecretCode) != 8 {
		t.Errorf("Unexpected signup response %+v", signup)
	}
	sessionCookie(t, rec)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"duplicate name", "/signup", `{"name":"Alice"}`, http.StatusConflict},
		{"blank name", "/signup", `{"name":"   "}`, http.StatusBadRequest},
		{"missing secret", "/login", `{"name":"Alice"}`, http.StatusBadRequest},
		{"wrong secret", "/login", `{"name":"Alice","secret_code":"nope"}`, http.StatusUnauthorized},
		{"unknown player", "/login", `{"name":"Mallory","secret_code":"` + signup.SecretCode + `"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(s, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}

	rec = postJSON(s, "/login", `{"name":" Alice ","secret_code":"`+signup.SecretCode+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	cookie := sessionCookie(t, rec)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	player, err := s.playerFromRequest(req)
	if err != nil || player.ID != signup.ID {
		t.Errorf("Expected player %d from the cookie, got %+v (%v)", signup.ID, player, err)
	}
}

func TestSignupRejectsGet(t *testing.T) {
	s := &server{store: newTestStore(t)}
	rec := httptest.NewRecorder()
	s.handleSignup(rec, httptest.NewRequest(http.MethodGet, "/signup", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	s := &server{store: newTestStore(t)}
	cookie := sessionCookie(t, postJSON(s, "/signup", `{"name":"Bob"}`))

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	s.handleLogout(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if c := sessionCookie(t, rec); c.MaxAge >= 0 {
		t.Error("Logout should expire the cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if _, err := s.playerFromRequest(req); err == nil {
		t.Error("The old cookie should no longer resolve a player")
	}
}

func TestCompressJSON(t *testing.T) {
	handler := compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"hello": "village"})
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("JSON responses should be compressed when the client accepts gzip")
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"hello":"village"`) {
		t.Errorf("Unexpected body %s", body)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Content-Encoding") != "" || !strings.Contains(rec.Body.String(), "village") {
		t.Error("Clients without gzip get a plain body")
	}
}
