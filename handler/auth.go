package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phbpx/leadtrack"
	"github.com/phbpx/leadtrack/auth"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

type ctxKey int

const identityKey ctxKey = 1

// identityFrom returns the caller set by Authenticate, or the zero Identity
// which every policy check rejects.
func identityFrom(ctx context.Context) leadtrack.Identity {
	id, _ := ctx.Value(identityKey).(leadtrack.Identity)
	return id
}

func withIdentity(ctx context.Context, id leadtrack.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Authenticate resolves the bearer token to a stored user and puts the
// caller identity in the request context. The role is read from the store,
// not from the token.
func Authenticate(authn *auth.Authenticator, users leadtrack.UserStore, log *otelzap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := bearer(r)
			if !ok {
				fail(ctx, rw, log, "Authenticate", leadtrack.ErrUnauthorized)
				return
			}
			userID, err := authn.Parse(token)
			if err != nil {
				fail(ctx, rw, log, "Authenticate", err)
				return
			}
			user, err := users.User(ctx, userID)
			if err != nil {
				if errors.Is(err, leadtrack.ErrUserNotFound) {
					err = leadtrack.ErrUnauthorized
				}
				fail(ctx, rw, log, "Authenticate", err)
				return
			}

			ctx = withIdentity(ctx, leadtrack.Identity{UserID: user.ID, Role: user.Role})
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through callers holding one of roles.
func RequireRole(log *otelzap.SugaredLogger, roles ...leadtrack.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			caller := identityFrom(r.Context())
			for _, role := range roles {
				if caller.Role == role {
					next.ServeHTTP(rw, r)
					return
				}
			}
			fail(r.Context(), rw, log, "RequireRole", leadtrack.ErrForbidden)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  leadtrack.User `json:"user"`
}

type AuthHandler struct {
	authn    *auth.Authenticator
	users    leadtrack.UserStore
	validate *validator.Validate
	log      *otelzap.SugaredLogger
}

func NewAuthHandler(authn *auth.Authenticator, users leadtrack.UserStore, log *otelzap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		authn:    authn,
		users:    users,
		validate: newValidator(),
		log:      log,
	}
}

func (ah AuthHandler) Login(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decode(r, &req); err != nil {
		fail(ctx, rw, ah.log, "Login", err)
		return
	}
	if err := check(ah.validate, req); err != nil {
		fail(ctx, rw, ah.log, "Login", err)
		return
	}

	user, err := ah.users.UserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, leadtrack.ErrUserNotFound) {
			err = leadtrack.ErrUnauthorized
		}
		fail(ctx, rw, ah.log, "Login", err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		fail(ctx, rw, ah.log, "Login", err)
		return
	}

	token, err := ah.authn.Issue(user)
	if err != nil {
		fail(ctx, rw, ah.log, "Login", err)
		return
	}

	respond(ctx, rw, http.StatusOK, envelope{Success: true, Data: loginResponse{Token: token, User: user}})
}

func (ah AuthHandler) Me(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := ah.users.User(ctx, identityFrom(ctx).UserID)
	if err != nil {
		fail(ctx, rw, ah.log, "Me", err)
		return
	}

	respond(ctx, rw, http.StatusOK, envelope{Success: true, Data: user})
}
