package auth

import (
	"context"
	"fmt"
	"log/slog"
	"market-chat/domain"
	"market-chat/errors"
	"market-chat/mocks"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const secret = "test-secret-with-enough-entropy"

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(secret, "", time.Hour)
	require.NoError(t, err)
	return issuer
}

func TestToken_RoundTrip(t *testing.T) {
	req := require.New(t)
	issuer := newIssuer(t)

	token, err := issuer.GenerateToken("u1")
	req.NoError(err)

	claims, err := issuer.ValidateToken(token)
	req.NoError(err)
	req.Equal("u1", claims.UserID)
	req.Equal(DefaultIssuer, claims.Issuer)
}

func TestToken_Rejections(t *testing.T) {
	req := require.New(t)
	issuer := newIssuer(t)

	expired := newIssuer(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.GenerateToken("u1")
	req.NoError(err)

	other, err := NewTokenIssuer("another-secret", "", time.Hour)
	req.NoError(err)
	foreignToken, err := other.GenerateToken("u1")
	req.NoError(err)

	otherIssuer, err := NewTokenIssuer(secret, "someone-else", time.Hour)
	req.NoError(err)
	wrongIssuerToken, err := otherIssuer.GenerateToken("u1")
	req.NoError(err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &CustomClaims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	req.NoError(err)

	tests := []struct {
		name  string
		token string
	}{
		{"Garbage", "not.a.token"},
		{"Expired", expiredToken},
		{"Foreign secret", foreignToken},
		{"Wrong issuer", wrongIssuerToken},
		{"Unsigned", noneToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.ValidateToken(tt.token)
			require.ErrorIs(t, err, errors.ErrInvalidToken)
			require.ErrorIs(t, err, errors.ErrAuthentication)
		})
	}
}

func TestNewTokenIssuer_Requires_Secret(t *testing.T) {
	_, err := NewTokenIssuer("", "", time.Hour)
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockIUserRepository(ctrl)
	issuer := newIssuer(t)
	authenticator := NewAuthenticator(issuer, users, slog.Default())

	token, err := issuer.GenerateToken("u1")
	req.NoError(err)
	ghostToken, err := issuer.GenerateToken("ghost")
	req.NoError(err)

	users.EXPECT().GetUser("u1").Return(domain.UserProfile{ID: "u1"}, nil).Times(4)
	users.EXPECT().GetUser("ghost").Return(domain.UserProfile{}, fmt.Errorf("%w: ghost", errors.ErrUnknownUser))

	userID, err := authenticator.Authenticate(context.Background(), token)
	req.NoError(err)
	req.Equal("u1", userID)

	userID, err = authenticator.Authenticate(context.Background(), "Bearer "+token)
	req.NoError(err)
	req.Equal("u1", userID)

	// The scheme is case-insensitive
	for _, scheme := range []string{"bearer ", "BEARER  "} {
		userID, err = authenticator.Authenticate(context.Background(), scheme+token)
		req.NoError(err)
		req.Equal("u1", userID)
	}

	_, err = authenticator.Authenticate(context.Background(), ghostToken)
	req.ErrorIs(err, errors.ErrAuthentication)

	_, err = authenticator.Authenticate(context.Background(), "")
	req.ErrorIs(err, errors.ErrAuthentication)

	_, err = authenticator.Authenticate(context.Background(), "Bearer ")
	req.ErrorIs(err, errors.ErrAuthentication)
	req.NotErrorIs(err, errors.ErrInvalidToken)

	_, err = authenticator.Authenticate(context.Background(), "Bearer garbage")
	req.ErrorIs(err, errors.ErrAuthentication)
}

func TestAuthenticate_Rejects_Mismatched_Subject(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockIUserRepository(ctrl)
	issuer := newIssuer(t)
	authenticator := NewAuthenticator(issuer, users, slog.Default())

	claims := &CustomClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u2",
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	req.NoError(err)

	_, err = authenticator.Authenticate(context.Background(), token)
	req.ErrorIs(err, errors.ErrAuthentication)
}

func TestUserIDFromContext(t *testing.T) {
	req := require.New(t)
	_, ok := UserIDFromContext(context.Background())
	req.False(ok)

	userID, ok := UserIDFromContext(WithUserID(context.Background(), "u1"))
	req.True(ok)
	req.Equal("u1", userID)
}
