package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/umputun/sftpcloud/internal/creds"
	"github.com/umputun/sftpcloud/internal/identity"
)

// fakeStore is an in-memory identity.Port used to exercise the Session
// Supervisor end to end without a real database, grounded on
// server/sftp_test.go's preference for full SSH+SFTP client integration
// tests over hand-built protocol requests.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*identity.User
	connections map[string]*identity.Connection
	transfers   []identity.Transfer
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*identity.User{}, connections: map[string]*identity.Connection{}}
}

func (f *fakeStore) addUser(username, password, homeDir string, active bool) {
	hash, err := creds.HashPassword(password)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[username] = &identity.User{ID: username, Username: username, PasswordHash: hash, Active: active, HomeDir: homeDir, Role: string(identity.RoleUser)}
}

func (f *fakeStore) FindUserByUsername(_ context.Context, username string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) FindUserByID(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (f *fakeStore) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeStore) InsertConnection(_ context.Context, conn *identity.Connection) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn.ID = fmt.Sprintf("conn-%d", len(f.connections)+1)
	cp := *conn
	f.connections[conn.ID] = &cp
	return conn.ID, nil
}

func (f *fakeStore) FinalizeConnection(_ context.Context, id string, endedAt time.Time, uploaded, downloaded int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.connections[id]
	if !ok {
		return identity.ErrConnectionNotFound
	}
	conn.EndedAt = &endedAt
	conn.Active = false
	conn.BytesUploaded = uploaded
	conn.BytesDownloaded = downloaded
	return nil
}

func (f *fakeStore) InsertTransfers(_ context.Context, transfers []identity.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transfers...)
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, user *identity.User) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[user.Username]; exists {
		return "", identity.ErrDuplicateUser
	}
	f.users[user.Username] = user
	return user.ID, nil
}

var _ identity.Port = (*fakeStore)(nil)

// startTestServer starts a Server backed by store on an ephemeral loopback
// port and returns its address and a cleanup function.
func startTestServer(t *testing.T, sharedRoot string, store *fakeStore) (addr string, cleanup func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = listener.Addr().String()
	require.NoError(t, listener.Close())

	keyFile := filepath.Join(t.TempDir(), "host_key")

	srv := &Server{
		Config:   Config{ListenAddr: addr, HostKeyFile: keyFile, SharedRoot: sharedRoot, IdleTimeout: 5 * time.Second},
		Verifier: creds.New(store),
		Store:    store,
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	return addr, func() {
		cancel()
		time.Sleep(100 * time.Millisecond)
	}
}

func dialSFTP(t *testing.T, addr, username, password string) *sftp.Client {
	t.Helper()

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	var sshClient *ssh.Client
	var err error
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sshClient, err = ssh.Dial("tcp", addr, config)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)

	client, err := sftp.NewClient(sshClient)
	require.NoError(t, err)
	return client
}

func TestHappyPathUpload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alice"), 0o755))

	store := newFakeStore()
	store.addUser("alice", "Passw0rd!", "alice", true)

	addr, cleanup := startTestServer(t, root, store)
	defer cleanup()

	client := dialSFTP(t, addr, "alice", "Passw0rd!")
	defer client.Close()

	f, err := client.Create("/hello.txt")
	require.NoError(t, err)
	n, err := f.Write([]byte("hi\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(filepath.Join(root, "alice", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))

	require.NoError(t, client.Close())
	time.Sleep(200 * time.Millisecond) // allow finalize to run after client disconnects
}

func TestJailEscapeAttempt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alice"), 0o755))

	store := newFakeStore()
	store.addUser("alice", "Passw0rd!", "alice", true)

	addr, cleanup := startTestServer(t, root, store)
	defer cleanup()

	client := dialSFTP(t, addr, "alice", "Passw0rd!")
	defer client.Close()

	_, err := client.Stat("/../../etc/passwd")
	assert.Error(t, err)
}

func TestInactiveUserRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	root := t.TempDir()
	store := newFakeStore()
	store.addUser("bob", "Passw0rd!", "bob", false)

	addr, cleanup := startTestServer(t, root, store)
	defer cleanup()

	config := &ssh.ClientConfig{
		User:            "bob",
		Auth:            []ssh.AuthMethod{ssh.Password("Passw0rd!")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         3 * time.Second,
	}
	_, err := ssh.Dial("tcp", addr, config)
	assert.Error(t, err)
}
