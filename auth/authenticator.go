package auth

import (
	"context"
	"fmt"
	"log/slog"
	"market-chat/errors"
	"market-chat/repositories"
	"strings"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Authenticator turns a bearer credential into a known user id.
// Every failure path rejects; there is no anonymous identity.
type Authenticator struct {
	tokens *TokenIssuer
	users  repositories.IUserRepository
	log    *slog.Logger
}

func NewAuthenticator(tokens *TokenIssuer, users repositories.IUserRepository, log *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, log: log.With("component", "authenticator")}
}

func (a *Authenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token := bearerToken(credential)
	if token == "" {
		return "", fmt.Errorf("%w: missing credential", errors.ErrAuthentication)
	}
	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		a.log.Debug("Token rejected", "error", err)
		return "", err
	}
	userID := claims.UserID
	if userID == "" || (claims.Subject != "" && claims.Subject != userID) {
		return "", fmt.Errorf("%w: ambiguous identity", errors.ErrInvalidToken)
	}
	if _, err = a.users.GetUser(userID); err != nil {
		if errors.Is(err, errors.ErrUnknownUser) {
			return "", fmt.Errorf("%w: %w", errors.ErrAuthentication, err)
		}
		return "", err
	}
	return userID, nil
}

// bearerToken strips an optional "Bearer" scheme, matched case-insensitively.
func bearerToken(credential string) string {
	credential = strings.TrimSpace(credential)
	if strings.EqualFold(credential, "Bearer") {
		return ""
	}
	if scheme, rest, found := strings.Cut(credential, " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return credential
}

// WithUserID stores the authenticated user in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
