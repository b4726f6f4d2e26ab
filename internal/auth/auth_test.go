package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "users.json")).WithCost(bcrypt.MinCost)
}

func testService(t *testing.T) (*Service, *time.Time) {
	t.Helper()
	st := testStore(t)
	require.NoError(t, st.Add("admin", "bedrock2024", RoleAdmin, "Administrator"))
	require.NoError(t, st.Add("nurse", "pw", "", ""))
	svc, err := newService(st, Config{JWTSecret: "test-secret"})
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.tokens.now = func() time.Time { return now }
	return svc, &now
}

func TestStoreAddListRemove(t *testing.T) {
	st := testStore(t)
	users, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, st.Add("zed", "pw", RoleUser, "Zed"))
	require.NoError(t, st.Add("amy", "pw", RoleAdmin, ""))
	assert.ErrorIs(t, st.Add("amy", "pw", RoleUser, ""), ErrUserAlreadyExists)
	assert.Error(t, st.Add("bob", "pw", "superuser", ""))
	assert.Error(t, st.Add("", "pw", RoleUser, ""))

	users, err = st.List()
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "amy", users[0].Username)
	assert.Equal(t, "amy", users[0].Name)

	u, err := st.Get("zed")
	require.NoError(t, err)
	assert.NotEqual(t, "pw", u.PasswordHash)

	require.NoError(t, st.Remove("zed"))
	assert.ErrorIs(t, st.Remove("zed"), ErrUserNotFound)
	_, err = st.Get("zed")
	assert.ErrorIs(t, err, ErrUserNotFound)

	p, err := st.Policy()
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := NewStore(path).List()
	assert.Error(t, err)
}

func TestVerifierLockout(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &User{PasswordHash: string(hash), Name: "Amy"}
	v := Verifier{Policy: Policy{MaxLoginAttempts: 3, LockoutDurationMinutes: 15}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var a Attempts
	d, a := v.Verify(u, "wrong", a, now)
	assert.False(t, d.OK)
	assert.Equal(t, 2, d.Remaining)
	d, a = v.Verify(nil, "whatever", a, now)
	assert.Equal(t, 1, d.Remaining)
	d, a = v.Verify(u, "wrong", a, now)
	assert.True(t, d.Locked)

	// correct password is refused while locked
	d, a = v.Verify(u, "secret", a, now.Add(time.Minute))
	assert.True(t, d.Locked)
	assert.False(t, d.OK)
	assert.Equal(t, 3, a.Count)

	d, a = v.Verify(u, "secret", a, now.Add(16*time.Minute))
	assert.True(t, d.OK)
	assert.Zero(t, a.Count)
}

func TestServiceLoginAndTokens(t *testing.T) {
	svc, _ := testService(t)

	res, err := svc.Login("admin", "bedrock2024")
	require.NoError(t, err)
	require.NotNil(t, res.Token)
	assert.Equal(t, RoleAdmin, res.Role)
	assert.Equal(t, "Bearer", res.Token.Type)

	who, err := svc.Authenticate(res.Token.Value)
	require.NoError(t, err)
	assert.Equal(t, "admin", who.Username)
	assert.Equal(t, "Administrator", who.Name)

	require.NoError(t, svc.Logout(res.Token.Value))
	require.NoError(t, svc.Logout(res.Token.Value))
	_, err = svc.Authenticate(res.Token.Value)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.Equal(t, 1, svc.Tokens().Revoked())

	_, err = svc.Authenticate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceLockout(t *testing.T) {
	svc, now := testService(t)
	for i := 0; i < 2; i++ {
		_, err := svc.Login("nurse", "bad")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Login("nurse", "bad")
	assert.ErrorIs(t, err, ErrLocked)
	_, err = svc.Login("nurse", "pw")
	assert.ErrorIs(t, err, ErrLocked)

	// other users are unaffected
	_, err = svc.Login("admin", "bedrock2024")
	require.NoError(t, err)

	*now = now.Add(svc.Policy().Lockout() + time.Second)
	_, err = svc.Login("nurse", "pw")
	require.NoError(t, err)

	_, err = svc.Login("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenExpiry(t *testing.T) {
	svc, now := testService(t)
	res, err := svc.Login("nurse", "pw")
	require.NoError(t, err)

	*now = now.Add(svc.Policy().SessionTimeout() + time.Minute)
	_, err = svc.Authenticate(res.Token.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromOtherSecret(t *testing.T) {
	other := NewTokens([]byte("other"), time.Hour, "medchat")
	tok, err := other.Issue("amy", RoleAdmin, "")
	require.NoError(t, err)
	mine := NewTokens([]byte("mine"), time.Hour, "medchat")
	_, err = mine.Validate(tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceConfigOverridesPolicy(t *testing.T) {
	svc, err := newService(testStore(t), Config{MaxAttempts: 5, Lockout: 2 * time.Minute, TokenTTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 5, svc.Policy().MaxLoginAttempts)
	assert.Equal(t, 2, svc.Policy().LockoutDurationMinutes)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := testService(t)
	mw := NewMiddleware(svc)

	r := gin.New()
	r.GET("/me", mw.GinAuth(), func(c *gin.Context) {
		res, _ := Result(c)
		c.String(http.StatusOK, res.Username)
	})
	r.GET("/admin", mw.GinAuth(), mw.GinRequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "garbage").Code)

	nurse, err := svc.Login("nurse", "pw")
	require.NoError(t, err)
	w := do("/me", nurse.Token.Value)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nurse", w.Body.String())
	assert.Equal(t, http.StatusForbidden, do("/admin", nurse.Token.Value).Code)

	admin, err := svc.Login("admin", "bedrock2024")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do("/admin", admin.Token.Value).Code)

	open := gin.New()
	off := NewMiddleware(nil)
	open.GET("/me", off.GinAuth(), off.GinRequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	w = httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCLIHelper(t *testing.T) {
	var out bytes.Buffer
	cli := NewCLIHelper(testStore(t), &out)
	require.NoError(t, cli.AddUser("amy", "pw", RoleAdmin, "Amy"))
	require.NoError(t, cli.ListUsers())
	assert.Contains(t, out.String(), "Users (1 total)")
	assert.Contains(t, out.String(), "amy")
	require.NoError(t, cli.RemoveUser("amy"))
	assert.Error(t, cli.RemoveUser("amy"))
}
