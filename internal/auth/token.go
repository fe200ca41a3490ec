package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/taskman/internal/model"
)

// Claims はJWTトークンに含めるクレームを表す。
// ユーザーIDはRegisteredClaims.Subjectに格納する。
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService はJWTトークンの発行と検証を提供する。
// 事前共有シークレットによるHS256署名を使用し、ストレージには依存しない。
// 検証はキャッシュを参照しない（認可は後続のAPIレイヤーで行う）。
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Issue は指定ユーザーの署名済みトークンを発行する。
func (s *TokenService) Issue(user *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Validate はトークンの署名と有効期限を検証し、クレームを返す。
// 失敗時はAPIErrorを返す。期限切れとそれ以外の無効トークンは
// 区別可能なエラーコードになるが、署名検証失敗の詳細は漏らさない。
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		// alg none攻撃を防ぐため、署名方式をHMACに限定する
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.NewTokenExpiredError()
		}
		return nil, model.NewInvalidTokenError()
	}

	if !token.Valid || claims.Subject == "" {
		return nil, model.NewInvalidTokenError()
	}

	return claims, nil
}
