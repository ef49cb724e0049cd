package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTLifeTime is the window APNs accepts a provider token for. APNs rejects
// pushes with ExpiredProviderToken once a token's iat is more than an hour
// old; 55 minutes leaves margin for clock skew and in-flight requests.
const JWTLifeTime = 55 * time.Minute

var errBadPrivateKey = errors.New("apns: key file does not contain an ECDSA PKCS8 private key")

// signer signs APNs provider authentication tokens (ES256, as required by
// https://developer.apple.com/documentation/usernotifications/establishing-a-token-based-connection-to-apns).
type signer struct {
	keyID      string
	teamID     string
	privateKey *ecdsa.PrivateKey
}

func newSigner(keyID, teamID string, p8PEM []byte) (*signer, error) {
	block, _ := pem.Decode(p8PEM)
	der := p8PEM
	if block != nil {
		der = block.Bytes
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("apns: parsing p8 key: %w", err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errBadPrivateKey
	}
	return &signer{keyID: keyID, teamID: teamID, privateKey: ecKey}, nil
}

// refresh is a dispatch.RefreshFunc: it mints a fresh provider token and
// reports when it stops being safe to use.
func (s *signer) refresh(_ context.Context) (string, time.Time, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.keyID
	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("apns: signing provider token: %w", err)
	}
	return signed, now.Add(JWTLifeTime), nil
}
