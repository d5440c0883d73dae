package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
	"github.com/mlog-app/mlog-store/internal/records"
)

// Account errors. Store failures are returned as kv errors.
var (
	ErrEmailTaken     = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnknownAccount = errors.New("account not found")
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// account is the stored form of a login account.
type account struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func (a *account) user() *User {
	return &User{ID: a.ID, Email: a.Email, Name: a.Name}
}

// Directory keeps login accounts in the record store.
type Directory struct {
	store  kv.KV
	tokens *Tokens
	cost   int
}

// NewDirectory returns a directory over store. A cost of 0 selects
// bcrypt.DefaultCost.
func NewDirectory(store kv.KV, tokens *Tokens, cost int) *Directory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Directory{store: store, tokens: tokens, cost: cost}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: malformed email %q", ErrInvalidInput, email)
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < MinPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLen)
	}
	// bcrypt ignores everything past 72 bytes.
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
	}
	return nil
}

func (d *Directory) load(ctx context.Context, email string) (*account, error) {
	var acc account
	found, err := kv.GetJSON(ctx, d.store, records.AccountKey(email), &acc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUnknownAccount
	}
	return &acc, nil
}

// SignUp creates an account. Two concurrent sign ups for the same email race
// and the later write wins.
func (d *Directory) SignUp(ctx context.Context, email, password, name string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	available, err := d.EmailAvailable(ctx, email)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := records.Timestamp(time.Now())
	acc := &account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := kv.SetJSON(ctx, d.store, records.AccountKey(email), acc); err != nil {
		return nil, err
	}
	logger.Infof("Created account %s", acc.ID)
	return acc.user(), nil
}

// Login checks the password and returns a bearer token.
func (d *Directory) Login(ctx context.Context, email, password string) (string, *User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, ErrBadCredentials
	}
	acc, err := d.load(ctx, email)
	if errors.Is(err, ErrUnknownAccount) {
		return "", nil, ErrBadCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrBadCredentials
	}
	u := acc.user()
	token, err := d.tokens.Issue(u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// ChangePassword replaces the password after checking the current one.
func (d *Directory) ChangePassword(ctx context.Context, email, current, next string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := checkPassword(next); err != nil {
		return err
	}
	acc, err := d.load(ctx, email)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(current)) != nil {
		return ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), d.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	acc.PasswordHash = string(hash)
	acc.UpdatedAt = records.Timestamp(time.Now())
	return kv.SetJSON(ctx, d.store, records.AccountKey(email), acc)
}

// EmailAvailable reports whether no account uses email.
func (d *Directory) EmailAvailable(ctx context.Context, email string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	v, err := d.store.Get(ctx, records.AccountKey(email))
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// Lookup returns the user registered with email.
func (d *Directory) Lookup(ctx context.Context, email string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	acc, err := d.load(ctx, email)
	if err != nil {
		return nil, err
	}
	return acc.user(), nil
}
