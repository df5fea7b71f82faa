// internal/handlers/user.go
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arcadehall/arena/internal/auth"
	"github.com/arcadehall/arena/internal/database"
	"github.com/arcadehall/arena/internal/models"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// Register handles POST /auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !decodeBody(w, r, &body) {
		return
	}

	problems := map[string]string{}
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if body.Email == "" || !strings.Contains(body.Email, "@") {
		problems["email"] = "a valid email is required"
	}
	if len(body.Password) < 8 {
		problems["password"] = "password must be at least 8 characters"
	}
	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" {
		problems["username"] = "username is required"
	}
	if len(problems) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid registration", problems)
		return
	}

	hash, err := auth.CreateHash(body.Password, auth.Params)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}

	user := &models.User{
		ID:       uuid.New(),
		Email:    body.Email,
		Password: hash,
		Username: body.Username,
		Status:   models.UserActive,
		Karma:    50,
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeError(w, http.StatusConflict, "DUPLICATE_FIELD", "email or username already in use", nil)
			return
		}
		writeDomainError(w, h.Log, err)
		return
	}

	token, err := auth.CreateJWT(user.ID.String(), user.IsAdmin)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}

	user.Password = ""
	writeSuccess(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

// Login handles POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !decodeBody(w, r, &body) {
		return
	}

	user, err := h.Store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(body.Email)))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS", "invalid email or password", nil)
			return
		}
		writeDomainError(w, h.Log, err)
		return
	}

	match, err := auth.ComparePasswordAndHash(body.Password, user.Password)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS", "invalid email or password", nil)
		return
	}

	token, err := auth.CreateJWT(user.ID.String(), user.IsAdmin)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}

	user.Password = ""
	writeSuccess(w, http.StatusOK, map[string]any{"user": user, "token": token})
}
