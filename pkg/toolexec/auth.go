package toolexec

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
)

// AuthorizationGrant is a live, JWT-backed authorization for a user to call
// a specific tool, added to support spec.md §4.6 step 5 ("a matching live
// authorization grant").
type AuthorizationGrant struct {
	UserID    string
	ToolName  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Token     string
}

// RefreshFunc reissues an expired grant. Returning an error fails the
// authorization check hard, per spec ("expired grants attempt a single
// refresh then fail hard").
type RefreshFunc func(userID, toolName string) (*AuthorizationGrant, error)

type grantClaims struct {
	jwt.RegisteredClaims
	ToolName string `json:"tool_name"`
}

// AuthorizationManager issues and validates per-(user, tool) grants.
type AuthorizationManager struct {
	signingKey  []byte
	ttl         time.Duration
	refreshFunc RefreshFunc

	mu     sync.RWMutex
	grants map[string]*AuthorizationGrant
}

// NewAuthorizationManager constructs an AuthorizationManager. signingKey
// signs the grant JWTs; ttl is the lifetime of a freshly issued grant.
func NewAuthorizationManager(signingKey []byte, ttl time.Duration, refreshFunc RefreshFunc) *AuthorizationManager {
	return &AuthorizationManager{
		signingKey:  signingKey,
		ttl:         ttl,
		refreshFunc: refreshFunc,
		grants:      make(map[string]*AuthorizationGrant),
	}
}

func grantKey(userID, toolName string) string {
	return userID + "\x00" + toolName
}

// Grant issues and records a new grant for userID to call toolName.
func (a *AuthorizationManager) Grant(userID, toolName string) (*AuthorizationGrant, error) {
	now := time.Now()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		ToolName: toolName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return nil, facterrors.WrapKind(facterrors.KindAuthorization, "sign authorization grant", err)
	}

	grant := &AuthorizationGrant{
		UserID:    userID,
		ToolName:  toolName,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
		Token:     signed,
	}

	a.mu.Lock()
	a.grants[grantKey(userID, toolName)] = grant
	a.mu.Unlock()
	return grant, nil
}

// Check requires a non-empty userID and a matching live grant for toolName.
// An expired grant triggers a single refresh attempt before failing hard.
func (a *AuthorizationManager) Check(userID, toolName string) error {
	if userID == "" {
		return facterrors.New(facterrors.KindAuthentication, "user authentication required for this tool")
	}

	a.mu.RLock()
	grant, ok := a.grants[grantKey(userID, toolName)]
	a.mu.RUnlock()

	if !ok {
		return facterrors.New(facterrors.KindAuthorization, fmt.Sprintf("no authorization grant for user %q and tool %q", userID, toolName))
	}

	if err := a.verifyToken(grant); err == nil {
		return nil
	}

	refreshed, err := a.refresh(userID, toolName)
	if err != nil {
		return facterrors.WrapKind(facterrors.KindAuthorization, "authorization grant expired and refresh failed", err)
	}
	return a.verifyToken(refreshed)
}

func (a *AuthorizationManager) refresh(userID, toolName string) (*AuthorizationGrant, error) {
	if a.refreshFunc != nil {
		grant, err := a.refreshFunc(userID, toolName)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.grants[grantKey(userID, toolName)] = grant
		a.mu.Unlock()
		return grant, nil
	}
	return a.Grant(userID, toolName)
}

func (a *AuthorizationManager) verifyToken(grant *AuthorizationGrant) error {
	claims := &grantClaims{}
	_, err := jwt.ParseWithClaims(grant.Token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	})
	if err != nil {
		return facterrors.WrapKind(facterrors.KindAuthorization, "invalid authorization token", err)
	}
	return nil
}
