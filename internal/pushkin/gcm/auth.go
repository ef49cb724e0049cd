package gcm

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	oauthTokenURL   = "https://oauth2.googleapis.com/token"
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	assertionLife   = 55 * time.Minute
	jwtBearerGrant  = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// serviceAccount is the subset of a Firebase service account JSON key file
// needed to mint OAuth2 JWT-bearer assertions.
type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

var errBadServiceAccountKey = errors.New("gcm: service account key is not a PKCS1/PKCS8 RSA private key")

func loadServiceAccount(raw []byte) (*serviceAccount, *rsa.PrivateKey, error) {
	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, nil, fmt.Errorf("gcm: parsing service account file: %w", err)
	}
	block, _ := pem.Decode([]byte(sa.PrivateKey))
	if block == nil {
		return nil, nil, errBadServiceAccountKey
	}
	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, nil, err
	}
	if sa.TokenURI == "" {
		sa.TokenURI = oauthTokenURL
	}
	return &sa, key, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", errBadServiceAccountKey)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errBadServiceAccountKey
	}
	return key, nil
}

// oauthExchanger performs the OAuth2 JWT-bearer exchange (RFC 7523) that the
// Firebase Admin SDK normally hides: sign a short-lived assertion with the
// service account's private key, then trade it for an access token at
// Google's token endpoint.
type oauthExchanger struct {
	account    *serviceAccount
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

func newOAuthExchanger(account *serviceAccount, key *rsa.PrivateKey, httpClient *http.Client) *oauthExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &oauthExchanger{account: account, privateKey: key, httpClient: httpClient}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// refresh is a dispatch.RefreshFunc.
func (e *oauthExchanger) refresh(ctx context.Context) (string, time.Time, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   e.account.ClientEmail,
		"scope": messagingScope,
		"aud":   e.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLife).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(e.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gcm: signing oauth assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.account.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gcm: building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("gcm: oauth token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("gcm: oauth token exchange returned %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("gcm: decoding oauth token response: %w", err)
	}
	return tr.AccessToken, now.Add(time.Duration(tr.ExpiresIn) * time.Second), nil
}
