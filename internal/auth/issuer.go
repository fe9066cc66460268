package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token audiences. Application tokens are signed with the application
// secret; broker and device tokens with the broker secret.
const (
	AudienceApplication = "sdr-gateway:application"
	AudienceBroker      = "sdr-gateway:broker"
	AudienceDevice      = "sdr-gateway:device"
)

const (
	defaultApplicationTTL = 15 * time.Minute
	// DefaultDeviceTTL is the lifetime of a device token when none is given.
	DefaultDeviceTTL = 10 * 365 * 24 * time.Hour
)

// IssuerConfig holds the two signing secrets and token lifetimes.
type IssuerConfig struct {
	ApplicationSecret string
	BrokerSecret      string
	ApplicationTTL    time.Duration
	DeviceTTL         time.Duration
}

// ApplicationClaims identify a caller of the management endpoints.
// Subject is the user ID.
type ApplicationClaims struct {
	jwt.RegisteredClaims
}

// DeviceClaims are read by the broker's JWT authorizer when a unit connects.
type DeviceClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	ACL      ACL    `json:"acl"`
}

// Issuer signs and verifies tokens for both domains.
type Issuer struct {
	appSecret    []byte
	brokerSecret []byte
	appTTL       time.Duration
	deviceTTL    time.Duration
	now          func() time.Time
}

// NewIssuer validates the secrets and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.ApplicationSecret == "" || cfg.BrokerSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.ApplicationSecret == cfg.BrokerSecret {
		return nil, ErrSharedSecret
	}

	iss := &Issuer{
		appSecret:    []byte(cfg.ApplicationSecret),
		brokerSecret: []byte(cfg.BrokerSecret),
		appTTL:       cfg.ApplicationTTL,
		deviceTTL:    cfg.DeviceTTL,
		now:          time.Now,
	}
	if iss.appTTL <= 0 {
		iss.appTTL = defaultApplicationTTL
	}
	if iss.deviceTTL <= 0 {
		iss.deviceTTL = DefaultDeviceTTL
	}
	return iss, nil
}

// DeviceTTL returns the lifetime applied to device tokens.
func (i *Issuer) DeviceTTL() time.Duration {
	return i.deviceTTL
}

// IssueApplicationToken signs claims in the application domain. Expiry,
// issue time and ID are filled in when unset.
func (i *Issuer) IssueApplicationToken(claims ApplicationClaims) (string, error) {
	i.stamp(&claims.RegisteredClaims, AudienceApplication, i.appTTL)
	return sign(claims, i.appSecret)
}

// VerifyApplicationToken parses and validates an application token.
func (i *Issuer) VerifyApplicationToken(token string) (*ApplicationClaims, error) {
	claims := &ApplicationClaims{}
	if err := i.verify(token, claims, AudienceApplication, i.appSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// IssueDeviceToken signs a broker-domain token carrying username and acl.
// A zero expiry means now plus the device TTL.
func (i *Issuer) IssueDeviceToken(username string, acl ACL, expiry time.Time) (string, error) {
	if username == "" {
		return "", fmt.Errorf("%w: username is required", ErrTokenInvalid)
	}
	claims := DeviceClaims{Username: username, ACL: acl}
	claims.Subject = username
	if !expiry.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiry)
	}
	i.stamp(&claims.RegisteredClaims, AudienceDevice, i.deviceTTL)
	return sign(claims, i.brokerSecret)
}

// VerifyDeviceToken parses a device token and returns its username and ACL.
func (i *Issuer) VerifyDeviceToken(token string) (string, ACL, error) {
	claims := &DeviceClaims{}
	if err := i.verify(token, claims, AudienceDevice, i.brokerSecret); err != nil {
		return "", ACL{}, err
	}
	if claims.Username == "" {
		return "", ACL{}, fmt.Errorf("%w: missing username", ErrTokenInvalid)
	}
	return claims.Username, claims.ACL, nil
}

// IssueBrokerToken signs the bearer token the broker presents on webhook calls.
func (i *Issuer) IssueBrokerToken(brokerID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{Subject: brokerID}
	i.stamp(&claims, AudienceBroker, ttl)
	return sign(claims, i.brokerSecret)
}

// VerifyBrokerToken validates a webhook bearer token and returns the broker ID.
func (i *Issuer) VerifyBrokerToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := i.verify(token, claims, AudienceBroker, i.brokerSecret); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (i *Issuer) stamp(rc *jwt.RegisteredClaims, audience string, ttl time.Duration) {
	now := i.now()
	rc.Audience = jwt.ClaimStrings{audience}
	if rc.IssuedAt == nil {
		rc.IssuedAt = jwt.NewNumericDate(now)
	}
	if rc.ExpiresAt == nil && ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// verify checks the audience before the signature so that a token from
// the other domain is reported as such rather than as a bad signature.
func (i *Issuer) verify(token string, claims jwt.Claims, audience string, secret []byte) error {
	var peek jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &peek); err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !slices.Contains(peek.Audience, audience) {
		for _, aud := range peek.Audience {
			if aud == AudienceApplication || aud == AudienceBroker || aud == AudienceDevice {
				return fmt.Errorf("%w: expected %s, got %s", ErrWrongDomain, audience, aud)
			}
		}
		return fmt.Errorf("%w: missing audience %s", ErrTokenInvalid, audience)
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}
