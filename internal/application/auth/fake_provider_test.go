package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wcsc/internal/domain/account"
	"wcsc/internal/domain/session"
)

type fakeUser struct {
	id       string
	email    string
	password string
	meta     account.Metadata
	// row is the profile table entry; nil means no row.
	row *account.Profile
}

// fakeProvider is an in-memory Provider with hooks for failure and timing.
type fakeProvider struct {
	mu        sync.Mutex
	users     map[string]*fakeUser
	current   *session.ProviderSession
	listeners map[int]SessionChangeFunc
	nextID    int

	probeErr   error
	probeHang  bool
	probes     int
	signOutErr error
	profileErr error
	lookupErr  error
	cleared    int
	creates    int

	// verifyStarted is closed when VerifyCredentials is entered; verifyGate blocks it.
	verifyStarted chan struct{}
	verifyGate    chan struct{}
	// profileStarted and profileGate do the same for LookupProfileByAuthID.
	profileStarted chan struct{}
	profileGate    chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		users:     map[string]*fakeUser{},
		listeners: map[int]SessionChangeFunc{},
	}
}

func (f *fakeProvider) addUser(email, password, username string, role account.Role) *fakeUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := &fakeUser{
		id:       fmt.Sprintf("user-%d", f.nextID),
		email:    email,
		password: password,
		meta:     account.Metadata{account.MetaUsername: username, account.MetaFullName: "Test " + username},
	}
	u.row = &account.Profile{AuthID: u.id, Email: email, Username: username, Role: role}
	f.users[email] = u
	return u
}

func (f *fakeProvider) Probe(ctx context.Context) error {
	f.mu.Lock()
	f.probes++
	hang, err := f.probeHang, f.probeErr
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeProvider) VerifyCredentials(ctx context.Context, email, password string) (session.ProviderSession, error) {
	if f.verifyStarted != nil {
		close(f.verifyStarted)
	}
	if f.verifyGate != nil {
		<-f.verifyGate
	}
	f.mu.Lock()
	u, ok := f.users[email]
	if !ok || u.password != password {
		f.mu.Unlock()
		return session.ProviderSession{}, ErrInvalidCredentials
	}
	ps := session.ProviderSession{Identity: session.Identity{ID: u.id, Email: u.email}, AccessToken: "tok-" + u.id, Metadata: u.meta}
	f.current = &ps
	f.mu.Unlock()
	f.emit(session.EventSignedIn, &ps)
	return ps, nil
}

func (f *fakeProvider) CreateAccount(ctx context.Context, email, password string, meta account.Metadata) (session.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if _, exists := f.users[email]; exists {
		return session.Identity{}, account.ErrDuplicateUser
	}
	f.nextID++
	u := &fakeUser{id: fmt.Sprintf("user-%d", f.nextID), email: email, password: password, meta: meta}
	u.row = &account.Profile{AuthID: u.id}
	f.users[email] = u
	return session.Identity{ID: u.id, Email: email}, nil
}

func (f *fakeProvider) CurrentSession(ctx context.Context) (*session.ProviderSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, nil
	}
	ps := *f.current
	return &ps, nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.current = nil
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.emit(session.EventSignedOut, nil)
	return nil
}

// revoke drops the provider session without notifying anyone.
func (f *fakeProvider) revoke() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
}

func (f *fakeProvider) OnSessionChange(fn SessionChangeFunc) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeProvider) emit(event session.ChangeEvent, ps *session.ProviderSession) {
	f.mu.Lock()
	fns := make([]SessionChangeFunc, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, ps)
	}
}

func (f *fakeProvider) LookupProfileByAuthID(ctx context.Context, authID string) (*account.Profile, error) {
	if f.profileStarted != nil {
		close(f.profileStarted)
	}
	if f.profileGate != nil {
		<-f.profileGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	for _, u := range f.users {
		if u.id == authID && u.row != nil {
			row := *u.row
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeProvider) LookupEmailByUsername(ctx context.Context, username string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	for _, u := range f.users {
		if u.meta.String(account.MetaUsername) == username {
			return u.email, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeProvider) ClearLocalState(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

var errBoom = errors.New("boom")
