package goGuard

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/permission"
)

// UserRecord is the subject data the Engine needs from the user store.
type UserRecord struct {
	ID                 string
	Username           string
	Email              string
	Mobile             string
	PasswordHash       string
	Disabled           bool
	MustChangePassword bool
	PasswordChangedAt  time.Time
	Roles              []string
}

// NewUser is the input to UserProvider.CreateUser. PasswordHash is already
// encoded by the Engine.
type NewUser struct {
	Username     string
	Email        string
	Mobile       string
	PasswordHash string
	Roles        []string
}

// UserProvider is the subject store. GetUserByIdentifier returns
// ErrUserNotFound for unknown identifiers; any other error is treated as a
// backend failure.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	CreateUser(ctx context.Context, user NewUser) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	IdentifierExists(ctx context.Context, username, email, mobile string) (bool, error)
}

// PasswordHistoryProvider is optionally implemented by a UserProvider to
// keep previous password hashes. RecentHashes returns at most limit hashes,
// newest first.
type PasswordHistoryProvider interface {
	RecentHashes(ctx context.Context, userID string, limit int) ([]string, error)
	AppendHash(ctx context.Context, userID, hash string) error
}

// GrantResolver flattens a subject's roles, groups and permissions into a
// set of grant strings.
type GrantResolver = permission.Resolver

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
}

type ChangePasswordRequest struct {
	Username    string `json:"username"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type ResetPasswordRequest struct {
	Username    string `json:"username"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// SubjectSummary is the non-secret view of a user returned with tokens.
type SubjectSummary struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Mobile   string   `json:"mobile,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Session describes one active refresh token without its secret value.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginResult is returned by every operation that issues a token pair.
type LoginResult struct {
	AccessToken      string         `json:"accessToken"`
	RefreshToken     string         `json:"refreshToken"`
	Subject          SubjectSummary `json:"subject"`
	AccessExpiresAt  time.Time      `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time      `json:"refreshExpiresAt"`
	// PasswordExpired is informational; the login has succeeded.
	PasswordExpired bool `json:"passwordExpired,omitempty"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	UserID  string
	TokenID string
	Grants  *permission.Grants
}

// Has reports whether the principal holds grant.
func (p *Principal) Has(grant string) bool {
	return p != nil && p.Grants.Has(grant)
}

func summarize(u UserRecord) SubjectSummary {
	return SubjectSummary{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Mobile:   u.Mobile,
		Roles:    append([]string(nil), u.Roles...),
	}
}
