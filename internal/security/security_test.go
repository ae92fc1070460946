package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenService_RoundTripAndAudience(t *testing.T) {
	svc, err := NewTokenService("s3cret", time.Hour, "examprep")
	require.NoError(t, err)

	raw, expires, err := svc.Issue(AudienceUser, 42, "ada")
	require.NoError(t, err)
	require.True(t, expires.After(time.Now()))

	claims, err := svc.Parse(AudienceUser, "Bearer "+raw)
	require.NoError(t, err)
	id, err := claims.PrincipalID()
	require.NoError(t, err)
	require.Equal(t, uint64(42), id)
	require.Equal(t, "ada", claims.Username)

	_, err = svc.Parse(AudienceAdmin, raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsExpiredAndForeignTokens(t *testing.T) {
	svc, err := NewTokenService("s3cret", time.Minute, "examprep")
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, _, err := svc.Issue(AudienceAdmin, 1, "root")
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.Parse(AudienceAdmin, raw)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenService("different", time.Hour, "examprep")
	require.NoError(t, err)
	foreign, _, err := other.Issue(AudienceAdmin, 1, "root")
	require.NoError(t, err)
	_, err = svc.Parse(AudienceAdmin, foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokenService(" ", time.Hour, "")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, CheckPassword(hash, "hunter2"))
	require.ErrorIs(t, CheckPassword(hash, "hunter3"), ErrPasswordMismatch)
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(16)
	require.NoError(t, err)
	require.Len(t, a, 32)
	b, err := GenerateRandomString(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = GenerateRandomString(0)
	require.Error(t, err)
}

func TestTOTPEnrollment(t *testing.T) {
	enrollment, err := NewTOTPEnrollment("ExamPrep", "ops")
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URL, "otpauth://totp/")

	code, err := TOTPCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.True(t, ValidateTOTP(code, enrollment.Secret))
	require.True(t, ValidateTOTP(" "+code+" ", enrollment.Secret))
	require.False(t, ValidateTOTP("", enrollment.Secret))
	require.False(t, ValidateTOTP(code, ""))

	other, err := NewTOTPEnrollment("ExamPrep", "ops")
	require.NoError(t, err)
	require.False(t, ValidateTOTP(code, other.Secret))
}
