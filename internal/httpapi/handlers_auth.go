package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"scribe/internal/api"
	"scribe/internal/identity"
	"scribe/internal/services"
)

// credentials accepts both JSON bodies and the OAuth2 password form, where
// the email travels as "username".
type credentials struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c credentials) email() string {
	if strings.TrimSpace(c.Email) != "" {
		return strings.TrimSpace(c.Email)
	}
	return strings.TrimSpace(c.Username)
}

const maxAuthBodyBytes = 64 << 10

func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	invalid := func(detail string) error {
		return services.Wrap(services.ErrValidation, "auth", "decode", detail, nil)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var creds credentials
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil && !errors.Is(err, io.EOF) {
			return creds, invalid("request body is not valid JSON")
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		parse := r.ParseForm
		if mediaType == "multipart/form-data" {
			parse = func() error { return r.ParseMultipartForm(maxAuthBodyBytes) }
		}
		if err := parse(); err != nil {
			return creds, invalid("form body could not be parsed")
		}
		creds.Email = r.PostFormValue("email")
		creds.Username = r.PostFormValue("username")
		creds.Password = r.PostFormValue("password")
	default:
		return creds, invalid("content type must be JSON or form-encoded")
	}
	if creds.email() == "" || creds.Password == "" {
		return creds, invalid("email and password are required")
	}
	return creds, nil
}

func tokenResponse(token identity.Token) api.TokenResponse {
	return api.TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresAt:   api.FormatTime(token.ExpiresAt),
	}
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_, token, err := h.deps.Identity.Register(r.Context(), creds.email(), creds.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse(token))
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_, token, err := h.deps.Identity.Login(r.Context(), creds.email(), creds.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(token))
}

func (h *handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	usage, err := h.deps.Usage.Usage(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromUser(user, usage))
}
