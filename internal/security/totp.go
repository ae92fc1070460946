package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPEnrollment is a freshly generated secret and its provisioning URL.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// NewTOTPEnrollment generates a TOTP secret for account under issuer.
func NewTOTPEnrollment(issuer, account string) (TOTPEnrollment, error) {
	key, errGenerate := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if errGenerate != nil {
		return TOTPEnrollment{}, fmt.Errorf("security: generate totp: %w", errGenerate)
	}
	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ValidateTOTP reports whether code is valid for secret at the current time.
func ValidateTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}

// TOTPCode returns the current code for secret.
func TOTPCode(secret string, at time.Time) (string, error) {
	code, errCode := totp.GenerateCode(secret, at)
	if errCode != nil {
		return "", fmt.Errorf("security: totp code: %w", errCode)
	}
	return code, nil
}
