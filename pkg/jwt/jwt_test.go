package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIssuer(t *testing.T, opts ...Option) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer("access-secret", "refresh-secret", opts...)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_RequiresSecrets(t *testing.T) {
	_, err := NewTokenIssuer("", "refresh")
	require.Error(t, err)
	_, err = NewTokenIssuer("access", "")
	require.Error(t, err)
}

func TestIssueAndVerify_Access(t *testing.T) {
	issuer := newIssuer(t)

	token, err := issuer.IssueAccessToken("user_1")
	require.NoError(t, err)

	claims, err := issuer.Verify(token, AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueAndVerify_RefreshLifetime(t *testing.T) {
	issuer := newIssuer(t)

	token, err := issuer.IssueRefreshToken("user_1")
	require.NoError(t, err)

	claims, err := issuer.Verify(token, RefreshToken)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultRefreshTTL), claims.ExpiresAt.Time, 5*time.Second)
}

func TestIssueRefreshToken_Unique(t *testing.T) {
	issuer := newIssuer(t)

	a, err := issuer.IssueRefreshToken("user_1")
	require.NoError(t, err)
	b, err := issuer.IssueRefreshToken("user_1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIssue_EmptyUser(t *testing.T) {
	issuer := newIssuer(t)
	_, err := issuer.IssueAccessToken("")
	require.Error(t, err)
}

func TestVerify_ExpiredIsDistinct(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	minting := newIssuer(t, WithClock(func() time.Time { return past }))
	verifying := newIssuer(t)

	token, err := minting.IssueAccessToken("user_1")
	require.NoError(t, err)

	_, err = verifying.Verify(token, AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_TamperedIsInvalid(t *testing.T) {
	issuer := newIssuer(t)

	token, err := issuer.IssueAccessToken("user_1")
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = issuer.Verify(tampered, AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("garbage", AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_ExpiredAndTamperedIsInvalid(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	issuer := newIssuer(t, WithClock(func() time.Time { return past }))
	token, err := issuer.IssueAccessToken("user_1")
	require.NoError(t, err)

	other, err := NewTokenIssuer("another-secret", "refresh-secret")
	require.NoError(t, err)
	_, err = other.Verify(token, AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_KindsAreNotInterchangeable(t *testing.T) {
	issuer := newIssuer(t)

	access, err := issuer.IssueAccessToken("user_1")
	require.NoError(t, err)
	refresh, err := issuer.IssueRefreshToken("user_1")
	require.NoError(t, err)

	_, err = issuer.Verify(access, RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.Verify(refresh, AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := BearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}
