package local

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"wcsc/internal/adapters/email"
	"wcsc/internal/adapters/storage/kv"
	"wcsc/internal/application/auth"
	"wcsc/internal/domain/account"
)

// Namespaces used in the key-value store.
const (
	UsersNamespace       = "wcsc_users"
	CurrentUserNamespace = "wcsc_current_user"
)

// DefaultBcryptCost is the cost for fallback password hashes.
const DefaultBcryptCost = 12

// Record is a serialized fallback user, keyed by email.
// Password holds a legacy plaintext password; records written here carry PasswordHash instead.
type Record struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Password     string    `json:"password,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	FullName     string    `json:"fullName"`
	Username     string    `json:"username"`
	Phone        string    `json:"phone,omitempty"`
	Chapter      string    `json:"chapter"`
	Bio          string    `json:"bio,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CheckPassword verifies password against the record.
func (r Record) CheckPassword(password string) bool {
	if r.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) == nil
	}
	if r.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Password), []byte(password)) == 1
}

// SetPassword replaces any stored password with a bcrypt hash.
func (r *Record) SetPassword(password string, cost int) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	r.PasswordHash = string(hash)
	r.Password = ""
	return nil
}

// Profile converts the record to a profile row.
func (r Record) Profile() account.Profile {
	role, err := account.ParseRole(r.Role)
	if err != nil {
		role = ""
	}
	return account.Profile{
		ID:        r.ID,
		AuthID:    r.ID,
		Email:     r.Email,
		FullName:  r.FullName,
		Username:  r.Username,
		Phone:     r.Phone,
		Chapter:   r.Chapter,
		Bio:       r.Bio,
		Role:      role,
		CreatedAt: r.CreatedAt,
	}
}

// Metadata returns the record as identity metadata.
func (r Record) Metadata() account.Metadata {
	return account.Metadata{
		account.MetaFullName: r.FullName,
		account.MetaUsername: r.Username,
		account.MetaPhone:    r.Phone,
		account.MetaChapter:  r.Chapter,
		account.MetaBio:      r.Bio,
		account.MetaRole:     r.Role,
	}
}

// Options configures a Directory. A nil Mailer disables the welcome email.
type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
	Mailer     email.Sender
	LoginURL   string
	Now        func() time.Time
}

// Directory is the shared fallback user directory over a kv.Store.
// It is a demo/offline store, not a security boundary.
type Directory struct {
	store    kv.Store
	tokens   tokens
	mailer   email.Sender
	loginURL string
	now      func() time.Time
	cost     int

	// writeMu serializes check-then-write on the users namespace.
	writeMu sync.Mutex
}

// NewDirectory creates a Directory. An empty secret gets a random per-process key.
func NewDirectory(store kv.Store, opts Options) *Directory {
	if len(opts.Secret) == 0 {
		opts.Secret = []byte(uuid.NewString() + uuid.NewString())
		slog.Warn("identity_provider", "event", "ephemeral_token_secret", "provider", "local")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoginURL == "" {
		opts.LoginURL = "/login"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = DefaultBcryptCost
	}
	return &Directory{
		store:    store,
		tokens:   tokens{secret: opts.Secret, ttl: opts.TokenTTL, now: opts.Now},
		mailer:   opts.Mailer,
		loginURL: opts.LoginURL,
		now:      opts.Now,
		cost:     opts.BcryptCost,
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Get returns the record stored for email, or kv.ErrNotFound.
func (d *Directory) Get(ctx context.Context, emailAddr string) (Record, error) {
	raw, err := d.store.Get(ctx, UsersNamespace, normalizeEmail(emailAddr))
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("decode user %s: %w", emailAddr, err)
	}
	return r, nil
}

// upgradePassword rewrites a legacy plaintext record with a bcrypt hash.
// Failures are logged and leave the record as it was.
func (d *Directory) upgradePassword(ctx context.Context, r Record, password string) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := r.SetPassword(password, d.cost); err != nil {
		slog.Warn("kv_event", "event", "password_upgrade_failed", "user", r.ID, "error", err)
		return
	}
	if err := d.Put(ctx, r); err != nil {
		slog.Warn("kv_event", "event", "password_upgrade_failed", "user", r.ID, "error", err)
		return
	}
	slog.Info("kv_event", "event", "password_upgraded", "user", r.ID)
}

// Put writes r under its email.
func (d *Directory) Put(ctx context.Context, r Record) error {
	r.Email = normalizeEmail(r.Email)
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", r.Email, err)
	}
	return d.store.Put(ctx, UsersNamespace, r.Email, raw)
}

// All returns every record. Undecodable entries are logged and skipped.
func (d *Directory) All(ctx context.Context) ([]Record, error) {
	entries, err := d.store.List(ctx, UsersNamespace)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for key, raw := range entries {
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			slog.Warn("kv_event", "event", "bad_user_record", "key", key, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ListProfiles returns the profile of every record.
func (d *Directory) ListProfiles(ctx context.Context) ([]account.Profile, error) {
	records, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]account.Profile, len(records))
	for i, r := range records {
		out[i] = r.Profile()
	}
	return out, nil
}

// FindByUsername returns the record whose username matches, ignoring case.
func (d *Directory) FindByUsername(ctx context.Context, username string) (Record, bool, error) {
	username = strings.TrimSpace(username)
	all, err := d.All(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range all {
		if strings.EqualFold(r.Username, username) {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// FindByID returns the record with the given id.
func (d *Directory) FindByID(ctx context.Context, id string) (Record, bool, error) {
	all, err := d.All(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// Create stores a new record with a hashed password.
// PRE: password satisfies the registration policy
// POST: Returns account.ErrDuplicateUser or account.ErrUsernameTaken if either is in use
func (d *Directory) Create(ctx context.Context, r Record, password string) (Record, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	r.Email = normalizeEmail(r.Email)
	if _, err := d.Get(ctx, r.Email); err == nil {
		return Record{}, account.ErrDuplicateUser
	} else if !errors.Is(err, kv.ErrNotFound) {
		return Record{}, err
	}
	if r.Username != "" {
		if _, taken, err := d.FindByUsername(ctx, r.Username); err != nil {
			return Record{}, err
		} else if taken {
			return Record{}, account.ErrUsernameTaken
		}
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Role == "" {
		r.Role = string(account.DefaultRole)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = d.now().UTC()
	}
	if err := r.SetPassword(password, d.cost); err != nil {
		return Record{}, err
	}
	if err := d.Put(ctx, r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// sendWelcome emails the new user. Failures are logged only.
func (d *Directory) sendWelcome(ctx context.Context, r Record) {
	if d.mailer == nil {
		return
	}
	msg, err := email.Welcome(r.Email, r.Profile().FirstName(), r.Username, r.Chapter, d.loginURL)
	if err == nil {
		_, err = d.mailer.Send(ctx, msg)
	}
	if err != nil {
		slog.Warn("auth_event", "event", "welcome_email_failed", "email", r.Email, "error", err)
	}
}

// ForContext returns a Provider bound to one UI context.
func (d *Directory) ForContext(contextID string) *Provider {
	return &Provider{
		dir:       d,
		contextID: contextID,
		listeners: map[int]auth.SessionChangeFunc{},
	}
}
