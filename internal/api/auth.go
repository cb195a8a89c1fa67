package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/ledlocator/internal/auth"
)

const (
	// ticketTTL bounds how long a WebSocket ticket waits to be redeemed.
	ticketTTL   = 60 * time.Second
	ticketBytes = 32

	// defaultTokenMinutes applies when security.jwt.access_token_ttl is unset.
	defaultTokenMinutes = 15
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *auth.User `json:"user"`
}

type passwordChange struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

// handleLogin exchanges a username and password for a bearer token.
// Unknown users, wrong passwords and disabled accounts all get a 401.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, ok := s.checkPassword(w, r, req.Username, req.Password)
	if !ok {
		return
	}
	if !user.IsActive {
		writeUnauthorized(w, "account is inactive")
		return
	}
	s.upgradeHash(r.Context(), user, req.Password)

	minutes := s.secCfg.JWT.AccessTokenTTL
	if minutes <= 0 {
		minutes = defaultTokenMinutes
	}
	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, minutes)
	if err != nil {
		s.logger.Error("signing access token failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.auditLog("login", "user", user.ID, user.ID, map[string]any{"username": user.Username})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   minutes * 60,
		User:        user,
	})
}

// handleChangePassword lets the caller replace their own password.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordChange
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Current == "" || req.New == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}
	if msg := checkPasswordStrength(req.New); msg != "" {
		writeValidationError(w, msg)
		return
	}

	p := principal(r)
	user, err := s.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		// The token outlived the account.
		writeUnauthorized(w, "account no longer exists")
		return
	}
	if _, ok := s.checkPassword(w, r, user.Username, req.Current); !ok {
		return
	}

	hash, err := auth.HashPassword(req.New)
	if err == nil {
		err = s.users.UpdatePassword(r.Context(), user.ID, hash)
	}
	if err != nil {
		s.logger.Error("changing password failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	s.auditLog("password_change", "user", user.ID, user.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// checkPassword loads username and verifies password, writing the error
// response itself when either step fails.
func (s *Server) checkPassword(w http.ResponseWriter, r *http.Request, username, password string) (*auth.User, bool) {
	user, err := s.users.GetByUsername(r.Context(), username)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeUnauthorized(w, "invalid credentials")
		return nil, false
	case err != nil:
		s.logger.Error("user lookup failed", "error", err)
		writeInternalError(w, "login failed")
		return nil, false
	}

	match, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unusable", "user_id", user.ID, "error", err)
		writeInternalError(w, "login failed")
		return nil, false
	}
	if !match {
		writeUnauthorized(w, "invalid credentials")
		return nil, false
	}
	return user, true
}

// upgradeHash re-hashes password when user's hash predates the current
// Argon2 parameters. Failure only costs another attempt next login.
func (s *Server) upgradeHash(ctx context.Context, user *auth.User, password string) {
	if !auth.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := auth.HashPassword(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password hash upgraded", "user_id", user.ID)
}

// handleWSTicket hands the caller a single-use ticket for GET /ws, which
// keeps the bearer token out of URLs and proxy logs.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(principal(r), time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds WebSocket tickets until they are redeemed or expire.
type ticketStore struct {
	mu      sync.Mutex
	pending map[string]ticket
}

type ticket struct {
	principal auth.Principal
	expires   time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{pending: make(map[string]ticket)}
}

func (ts *ticketStore) issue(p auth.Principal, now time.Time) string {
	b := make([]byte, ticketBytes)
	rand.Read(b) //nolint:errcheck // never fails on supported platforms
	id := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.pending[id] = ticket{principal: p, expires: now.Add(ticketTTL)}
	ts.mu.Unlock()
	return id
}

// redeem removes id and returns its principal if it had not yet expired.
func (ts *ticketStore) redeem(id string, now time.Time) (auth.Principal, bool) {
	ts.mu.Lock()
	t, ok := ts.pending[id]
	delete(ts.pending, id)
	ts.mu.Unlock()

	if !ok || !now.Before(t.expires) {
		return auth.Principal{}, false
	}
	return t.principal, true
}

func (ts *ticketStore) sweep(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, t := range ts.pending {
		if !now.Before(t.expires) {
			delete(ts.pending, id)
		}
	}
}

func (ts *ticketStore) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pending)
}

// run sweeps expired tickets every ticketTTL until ctx ends.
func (ts *ticketStore) run(ctx context.Context) {
	tick := time.NewTicker(ticketTTL)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			ts.sweep(now)
		}
	}
}
