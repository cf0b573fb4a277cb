package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
)

const sessionCookieName = "werewolf_session"

func generateSecretCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// credentials accepts either a JSON body or form values.
type credentials struct {
	Name       string `json:"name"`
	SecretCode string `json:"secret_code"`
}

func readCredentials(r *http.Request) credentials {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			DebugLog("readCredentials: %v", err)
		}
	} else {
		c.Name = r.FormValue("name")
		c.SecretCode = r.FormValue("secret_code")
	}
	c.Name = strings.TrimSpace(c.Name)
	c.SecretCode = strings.TrimSpace(c.SecretCode)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}

func writeToast(w http.ResponseWriter, status int, toastType, message string) {
	writeJSON(w, status, renderToast(toastType, message))
}

func (s *server) setSessionCookie(w http.ResponseWriter, r *http.Request, playerID PlayerID) error {
	tokenBig, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return err
	}
	token := tokenBig.Int64()
	if err := s.store.CreateLogin(r.Context(), token, playerID); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    strconv.FormatInt(token, 10),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func sessionToken(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(cookie.Value, 10, 64)
}

// playerFromRequest resolves the logged-in player from the session cookie.
func (s *server) playerFromRequest(r *http.Request) (Player, error) {
	token, err := sessionToken(r)
	if err != nil {
		return Player{}, err
	}
	id, err := s.store.LoginPlayer(r.Context(), token)
	if err != nil {
		return Player{}, err
	}
	return s.store.PlayerByID(r.Context(), id)
}

type signupResponse struct {
	ID         PlayerID `json:"id"`
	Name       string   `json:"name"`
	SecretCode string   `json:"secret_code"`
}

func (s *server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := readCredentials(r)
	if c.Name == "" {
		writeToast(w, http.StatusBadRequest, toastError, "Name is required")
		return
	}

	secretCode, err := generateSecretCode()
	if err != nil {
		logError("handleSignup: generateSecretCode", err)
		writeToast(w, http.StatusInternalServerError, toastError, "Something went wrong")
		return
	}

	player, err := s.store.CreatePlayer(r.Context(), c.Name, secretCode)
	if errors.Is(err, ErrForbidden) {
		writeToast(w, http.StatusConflict, toastError, "Name already taken. Use login with secret code if this is you.")
		return
	}
	if err != nil {
		logError("handleSignup: CreatePlayer", err)
		writeToast(w, http.StatusInternalServerError, toastError, "Something went wrong")
		return
	}

	log.Printf("New player created: name='%s', id=%d", player.Name, player.ID)
	LogDBState("after signup: " + player.Name)

	if err := s.setSessionCookie(w, r, player.ID); err != nil {
		logError("handleSignup: setSessionCookie", err)
		writeToast(w, http.StatusInternalServerError, toastError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusCreated, signupResponse{ID: player.ID, Name: player.Name, SecretCode: secretCode})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := readCredentials(r)
	if c.Name == "" || c.SecretCode == "" {
		writeToast(w, http.StatusBadRequest, toastError, "Name and secret code are required")
		return
	}

	player, err := s.store.FindPlayer(r.Context(), c.Name, c.SecretCode)
	if errors.Is(err, ErrNotFound) {
		writeToast(w, http.StatusUnauthorized, toastError, "Invalid name or secret code")
		return
	}
	if err != nil {
		logError("handleLogin: FindPlayer", err)
		writeToast(w, http.StatusInternalServerError, toastError, "Something went wrong")
		return
	}

	log.Printf("Player logged in: name='%s', id=%d", player.Name, player.ID)
	if err := s.setSessionCookie(w, r, player.ID); err != nil {
		logError("handleLogin: setSessionCookie", err)
		writeToast(w, http.StatusInternalServerError, toastError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, err := sessionToken(r); err == nil {
		if err := s.store.DeleteLogin(r.Context(), token); err != nil {
			logError("handleLogout: DeleteLogin", err)
		}
		DebugLog("handleLogout: token %d removed", token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
