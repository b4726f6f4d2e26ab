package auth

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/medchat/internal/fsutil"
)

type usersFile struct {
	Users  map[string]User `json:"users"`
	Policy
}

// Store is the JSON users file. A missing file is an empty store with the
// default policy.
type Store struct {
	path string
	cost int
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path, cost: bcrypt.DefaultCost}
}

// WithCost sets the bcrypt cost for new hashes.
func (s *Store) WithCost(cost int) *Store {
	s.cost = cost
	return s
}

func (s *Store) Path() string { return s.path }

func (s *Store) load() (usersFile, error) {
	var f usersFile
	err := fsutil.ReadJSON(s.path, &f)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return usersFile{}, fmt.Errorf("read users file: %w", err)
	}
	if f.Users == nil {
		f.Users = map[string]User{}
	}
	f.Policy = f.Policy.withDefaults()
	return f, nil
}

func (s *Store) Policy() (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	return f.Policy, err
}

// Get returns the stored user.
func (s *Store) Get(username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return User{}, err
	}
	u, ok := f.Users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// Add hashes password and stores a new user.
func (s *Store) Add(username, password, role, name string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Users[username]; ok {
		return fmt.Errorf("%w: %s", ErrUserAlreadyExists, username)
	}
	if name == "" {
		name = username
	}
	f.Users[username] = User{PasswordHash: string(hash), Role: role, Name: name, CreatedAt: time.Now().UTC()}
	return fsutil.AtomicWriteJSON(s.path, f)
}

func (s *Store) Remove(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	delete(f.Users, username)
	return fsutil.AtomicWriteJSON(s.path, f)
}

// List returns users sorted by name.
func (s *Store) List() ([]UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]UserInfo, 0, len(f.Users))
	for name, u := range f.Users {
		out = append(out, UserInfo{Username: name, Role: u.Role, Name: u.Name, CreatedAt: u.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
