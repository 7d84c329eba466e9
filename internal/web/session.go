package web

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// WalletClaims are embedded in the wallet session token.
type WalletClaims struct {
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

const walletContextKey = "wallet_claims"

// MintWalletJWT creates a signed HS256 session token for a wallet address.
func MintWalletJWT(walletAddress string, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, WalletClaims{
		WalletAddress: walletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   walletAddress,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

// RequireWallet validates the wallet session cookie and injects claims.
func RequireWallet(configuration ServerConfig) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sessionCookie, cookieErr := contextGin.Request.Cookie(configuration.SessionCookieName)
		if cookieErr != nil || sessionCookie == nil || sessionCookie.Value == "" {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		parsedToken, parseErr := jwt.ParseWithClaims(sessionCookie.Value, &WalletClaims{}, func(parsed *jwt.Token) (interface{}, error) {
			return configuration.SessionSigningKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, ok := parsedToken.Claims.(*WalletClaims)
		if !ok || claims.Issuer != configuration.SessionIssuer || !common.IsHexAddress(claims.WalletAddress) {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(walletContextKey, claims)
		contextGin.Next()
	}
}

func walletFromContext(contextGin *gin.Context) (string, bool) {
	claimsValue, found := contextGin.Get(walletContextKey)
	if !found {
		return "", false
	}
	claims, ok := claimsValue.(*WalletClaims)
	if !ok || claims == nil || claims.WalletAddress == "" {
		return "", false
	}
	return claims.WalletAddress, true
}

func writeSessionCookie(contextGin *gin.Context, configuration ServerConfig, sessionToken string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
