package auth

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// パスワードポリシー検証用の正規表現。
var (
	uppercasePattern = regexp.MustCompile(`[A-Z]`)
	digitPattern     = regexp.MustCompile(`[0-9]`)
	specialPattern   = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// パスワードポリシー違反時のエラーメッセージ。
// 元クライアントとの互換のため文言は固定とする。
var (
	errPasswordTooShort  = errors.New("Password must be at least 8 characters long.")
	errPasswordNoUpper   = errors.New("Password must contain at least one uppercase letter.")
	errPasswordNoDigit   = errors.New("Password must contain at least one number.")
	errPasswordNoSpecial = errors.New("Password must contain at least one special character.")
)

// ValidatePassword はパスワードがポリシーを満たすかを検証する。
// ポリシー: 8文字以上、大文字1つ以上、数字1つ以上、記号1つ以上。
// 違反がある場合はクライアント表示用メッセージを持つエラーを返す。
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errPasswordTooShort
	}
	if !uppercasePattern.MatchString(password) {
		return errPasswordNoUpper
	}
	if !digitPattern.MatchString(password) {
		return errPasswordNoDigit
	}
	if !specialPattern.MatchString(password) {
		return errPasswordNoSpecial
	}
	return nil
}

// HashPassword は平文パスワードのbcryptハッシュを生成する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword は平文パスワードがハッシュと一致するかを検証する。
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
