package library

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// RegisterUser creates a Member account. Duplicate user IDs or emails are
// conflicts.
func (m *Manager) RegisterUser(id, name, email, password string) (*User, error) {
	return m.addUser(id, name, email, password, RoleMember)
}

// AddUser creates an account with an explicit role (admin operation).
func (m *Manager) AddUser(id, name, email, password, role string) (*User, error) {
	if role != RoleMember && role != RoleAdmin {
		return nil, errors.Wrapf(ErrConflict, "unknown role %q", role)
	}
	return m.addUser(id, name, email, password, role)
}

func (m *Manager) addUser(id, name, email, password, role string) (*User, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(password) == "" {
		return nil, errors.Wrap(ErrConflict, "user id and password are required")
	}

	if exists, err := m.db.UserExists(id); err != nil {
		return nil, err
	} else if exists {
		return nil, errors.Wrapf(ErrConflict, "user %s already exists", id)
	}
	if exists, err := m.db.EmailExists(email); err != nil {
		return nil, err
	} else if exists {
		return nil, errors.Wrapf(ErrConflict, "email %s already exists", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := m.now()
	u := &User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.db.AddUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies credentials. Unknown users, wrong passwords and
// deactivated accounts all fail the same way.
func (m *Manager) Authenticate(userID, password string) (*User, error) {
	u, err := m.db.GetUser(userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (m *Manager) GetUser(id string) (*User, error)           { return m.db.GetUser(id) }
func (m *Manager) GetUserByEmail(email string) (*User, error) { return m.db.GetUserByEmail(email) }
func (m *Manager) GetAllUsers() ([]*User, error)              { return m.db.GetAllUsers() }

// UpdateUserProfile changes name and email. An email change must not collide
// with another account.
func (m *Manager) UpdateUserProfile(userID, name, email string) error {
	u, err := m.db.GetUser(userID)
	if err != nil {
		return err
	}
	if u.Email != email {
		if exists, err := m.db.EmailExists(email); err != nil {
			return err
		} else if exists {
			return errors.Wrapf(ErrConflict, "email %s already exists", email)
		}
	}
	u.Name = name
	u.Email = email
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}

// ChangePassword replaces the password after verifying the current one.
func (m *Manager) ChangePassword(userID, currentPassword, newPassword string) error {
	u, err := m.db.GetUser(userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)); err != nil {
		return errors.Wrap(ErrAuthorization, "current password is incorrect")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}

// SetUserActive activates or deactivates an account. Re-applying the current
// state is a conflict, matching the explicit activate/deactivate semantics.
func (m *Manager) SetUserActive(userID string, active bool) error {
	u, err := m.db.GetUser(userID)
	if err != nil {
		return err
	}
	if u.Active == active {
		if active {
			return errors.Wrapf(ErrConflict, "user %s is already active", userID)
		}
		return errors.Wrapf(ErrConflict, "user %s is already deactivated", userID)
	}
	u.Active = active
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}

// ToggleUserActive flips the activation flag unconditionally.
func (m *Manager) ToggleUserActive(userID string) error {
	u, err := m.db.GetUser(userID)
	if err != nil {
		return err
	}
	u.Active = !u.Active
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}

// GrantAdmin promotes a Member to Admin.
func (m *Manager) GrantAdmin(userID string) error {
	u, err := m.db.GetUser(userID)
	if err != nil {
		return err
	}
	if u.Role == RoleAdmin {
		return errors.Wrapf(ErrConflict, "user %s is already an admin", userID)
	}
	u.Role = RoleAdmin
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}

// RevokeAdmin demotes an Admin back to Member.
func (m *Manager) RevokeAdmin(userID string) error {
	u, err := m.db.GetUser(userID)
	if err != nil {
		return err
	}
	if u.Role != RoleAdmin {
		return errors.Wrapf(ErrConflict, "user %s is not an admin", userID)
	}
	u.Role = RoleMember
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}

// DeleteUser removes an account.
func (m *Manager) DeleteUser(userID string) error { return m.db.DeleteUser(userID) }

// ------------------ Password reset ------------------

// GenerateResetToken mints an opaque single-use token for the account with
// the given email, valid for one hour.
func (m *Manager) GenerateResetToken(email string) (string, error) {
	u, err := m.db.GetUserByEmail(email)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	expiry := m.now().Add(ResetTokenTTL)
	u.ResetToken = token
	u.ResetTokenExpiry = &expiry
	u.UpdatedAt = m.now()
	if err := m.db.UpdateUser(u); err != nil {
		return "", err
	}
	return token, nil
}

// RequestPasswordReset mints a token and emails the reset link.
func (m *Manager) RequestPasswordReset(email, resetURLBase string) error {
	token, err := m.GenerateResetToken(email)
	if err != nil {
		return err
	}
	resetURL := strings.TrimSuffix(resetURLBase, "/") + "/api/password/reset?token=" + url.QueryEscape(token)
	if err := m.mailer.SendPasswordResetEmail(email, resetURL); err != nil {
		return errors.Wrap(err, "send reset email")
	}
	return nil
}

// ValidateResetToken reports whether a token is known and unexpired.
func (m *Manager) ValidateResetToken(token string) bool {
	_, err := m.db.GetUserByResetToken(token, m.now())
	return err == nil
}

// ResetPassword consumes a token: the password hash is replaced and the
// token cleared in one row update, so a token cannot be replayed.
func (m *Manager) ResetPassword(token, newPassword string) error {
	u, err := m.db.GetUserByResetToken(token, m.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errors.Wrap(ErrInvalidToken, "reset token is invalid or expired")
		}
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.ResetToken = ""
	u.ResetTokenExpiry = nil
	u.UpdatedAt = m.now()
	return m.db.UpdateUser(u)
}
