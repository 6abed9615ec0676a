// Package server implements the Session Supervisor and SFTP Operation
// Handler (spec.md §4.5, §4.6): the SSH/SFTP front door, grounded on
// server/sftp.go's accept loop and connection/session handling from
// umputun/weblist, generalized from a single shared user to the multi-user,
// read-write, telemetry-backed semantics of the new spec.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/umputun/sftpcloud/internal/creds"
	"github.com/umputun/sftpcloud/internal/identity"
	"github.com/umputun/sftpcloud/internal/pathjail"
	"github.com/umputun/sftpcloud/internal/telemetry"
)

// channelOpenTimeout bounds how long a session waits for the client to
// open a channel after authentication (spec.md §4.6).
const channelOpenTimeout = 20 * time.Second

// Server is the Session Supervisor: it accepts TCP connections, drives the
// SSH handshake and authentication, and owns each session's counters and
// transfer log through to finalization.
type Server struct {
	Config
	Verifier *creds.Verifier
	Store    identity.Port

	ipAttempts   map[string]ipAttemptsInfo
	ipAttemptsMu sync.Mutex
}

// ipAttemptsInfo tracks authentication attempts from a remote IP, the way
// server/sftp.go's rate limiter did.
type ipAttemptsInfo struct {
	count     int
	firstSeen time.Time
}

// Run starts the accept loop. It blocks until ctx is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s.Verifier == nil || s.Store == nil {
		return fmt.Errorf("server: Verifier and Store are required")
	}
	if s.SharedRoot == "" {
		return fmt.Errorf("server: SharedRoot is required")
	}

	s.ipAttempts = make(map[string]ipAttemptsInfo)

	sshConfig, err := s.setupSSHServerConfig()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.ListenAddr, err)
	}
	defer listener.Close()

	log.Printf("[INFO] starting SFTP server on %s", s.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("accept error: %w", err)
				return
			}
			go s.handleConnection(ctx, conn, sshConfig)
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("SFTP server failed: %w", err)
	case <-ctx.Done():
		log.Printf("[INFO] SFTP server shutting down")
		return listener.Close()
	}
}

// handleConnection drives one connection from Accepted through the SSH
// handshake and, on success, waits for the client to open the session
// channel that carries the sftp subsystem (spec.md §4.6).
func (s *Server) handleConnection(ctx context.Context, conn net.Conn, sshConfig *ssh.ServerConfig) {
	defer conn.Close()
	defer func() {
		if x := recover(); x != nil {
			log.Printf("[ERROR] session panic from %s: %v\n%s", conn.RemoteAddr(), x, debug.Stack())
		}
	}()

	tc := &timeoutConn{Conn: conn, idleTimeout: s.idleTimeout(), lastActivity: time.Now()}

	sshConn, chans, reqs, err := ssh.NewServerConn(tc, sshConfig)
	if err != nil {
		log.Printf("[DEBUG] SSH handshake failed from %s: %v", conn.RemoteAddr(), err)
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	userID := ""
	if sshConn.Permissions != nil {
		userID = sshConn.Permissions.Extensions["user_id"]
	}

	select {
	case newChan, ok := <-chans:
		if !ok {
			return
		}
		s.handleChannel(ctx, sshConn, newChan, userID)
	case <-time.After(channelOpenTimeout):
		log.Printf("[WARN] no channel opened within %s, closing %s", channelOpenTimeout, sshConn.RemoteAddr())
		return
	}

	// drain and reject any further channels; only one sftp subsystem per
	// connection is supported.
	for newChan := range chans {
		_ = newChan.Reject(ssh.ResourceShortage, "session already in use")
	}
}

// handleChannel accepts a single session channel and waits for the sftp
// subsystem request, rejecting every other channel type. Of the channel
// requests, "pty-req" and "env" are acknowledged, any subsystem other than
// sftp and every other request kind are rejected.
func (s *Server) handleChannel(ctx context.Context, sshConn *ssh.ServerConn, newChan ssh.NewChannel, userID string) {
	if newChan.ChannelType() != "session" {
		_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		return
	}

	channel, requests, err := newChan.Accept()
	if err != nil {
		log.Printf("[WARN] could not accept channel: %v", err)
		return
	}
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "subsystem":
			if len(req.Payload) < 5 || string(req.Payload[4:]) != "sftp" {
				replyRequest(req, false)
				continue
			}
			replyRequest(req, true)
			s.serve(ctx, sshConn, channel, userID)
			return
		case "pty-req", "env":
			replyRequest(req, true)
		default:
			replyRequest(req, false)
		}
	}
}

func replyRequest(req *ssh.Request, accept bool) {
	if err := req.Reply(accept, nil); err != nil {
		log.Printf("[WARN] failed to reply to %s request: %v", req.Type, err)
	}
}

// serve runs the Serving state for one SFTP channel: it resolves the
// user's home, inserts the Connection Record, runs the SFTP request
// server until the channel closes, and finalizes the connection under a
// terminal guard (spec.md §4.6).
func (s *Server) serve(ctx context.Context, sshConn *ssh.ServerConn, channel ssh.Channel, userID string) {
	user, err := s.Store.FindUserByID(ctx, userID)
	if err != nil {
		log.Printf("[ERROR] authenticated user %s vanished from the store: %v", userID, err)
		return
	}

	sanitizedHome := identity.SanitizeHomeDir(user.HomeDir, user.Username)
	homeAbsolute, err := pathjail.ResolveHome(s.SharedRoot, sanitizedHome)
	if err != nil {
		log.Printf("[ERROR] home resolution failed for %s: %v", user.Username, err)
		return
	}

	counters := &telemetry.Counters{}
	transferLog := &telemetry.Log{}

	connID, err := s.Store.InsertConnection(ctx, &identity.Connection{
		UserID:         user.ID,
		Username:       user.Username,
		ClientEndpoint: sshConn.RemoteAddr().String(),
		RemoteIP:       remoteIP(sshConn.RemoteAddr()),
		StartedAt:      time.Now().UTC(),
		Active:         true,
	})

	handler := newOperationHandler(homeAbsolute, counters, transferLog)
	if err != nil {
		log.Printf("[ERROR] failed to insert connection record for %s: %v, demoting session", user.Username, err)
		handler.demote()
		connID = ""
	}

	defer s.finalize(ctx, connID, user.Username, counters, transferLog)

	handlers := sftp.Handlers{
		FileGet:  handler,
		FilePut:  handler,
		FileCmd:  handler,
		FileList: handler,
	}

	reqServer := sftp.NewRequestServer(channel, handlers)
	defer reqServer.Close()

	log.Printf("[INFO] SFTP session started for %s, home %s", user.Username, homeAbsolute)
	if err := reqServer.Serve(); err != nil && err != io.EOF {
		log.Printf("[WARN] SFTP session for %s ended with error: %v", user.Username, err)
	}
}

// finalize runs exactly once per session that reached Serving, regardless
// of how it ended (spec.md §4.6, §8 property 4).
func (s *Server) finalize(ctx context.Context, connID, username string, counters *telemetry.Counters, transferLog *telemetry.Log) {
	if connID == "" {
		return
	}

	uploaded, downloaded := counters.Snapshot()
	transfers := transferLog.Drain()
	for i := range transfers {
		transfers[i].ConnectionID = connID
		transfers[i].Username = username
	}

	if err := s.Store.InsertTransfers(ctx, transfers); err != nil {
		log.Printf("[ERROR] failed to persist transfer log for connection %s: %v", connID, err)
	}
	if err := s.Store.FinalizeConnection(ctx, connID, time.Now().UTC(), uploaded, downloaded); err != nil {
		log.Printf("[ERROR] failed to finalize connection %s: %v", connID, err)
	}
}

func remoteIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	return addr.String()
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return 10 * time.Minute
}

// setupSSHServerConfig builds the SSH server configuration: password-only
// authentication via the Credential Verifier, with per-IP rate limiting
// (spec.md §6, §4.2).
func (s *Server) setupSSHServerConfig() (*ssh.ServerConfig, error) {
	version := "SSH-2.0-sftpcloud"
	if s.Version != "" {
		version = "SSH-2.0-sftpcloud_" + s.Version
	}

	config := &ssh.ServerConfig{
		ServerVersion: version,
		MaxAuthTries:  6,
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			remoteIP := remoteIP(c.RemoteAddr())
			if !s.checkAuthRateLimit(remoteIP) {
				log.Printf("[WARN] auth rate limit exceeded for %s", remoteIP)
				time.Sleep(2 * time.Second)
				return nil, fmt.Errorf("too many authentication attempts")
			}

			user, err := s.Verifier.Authenticate(context.Background(), c.User(), string(pass))
			if err != nil {
				log.Printf("[WARN] authentication failed for %q from %s", c.User(), c.RemoteAddr())
				return nil, fmt.Errorf("authentication failed")
			}

			s.resetAuthRateLimit(remoteIP)
			return &ssh.Permissions{Extensions: map[string]string{"user_id": user.ID}}, nil
		},
	}

	hostKey, err := loadOrGenerateHostKey(s.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to set up host key: %w", err)
	}
	config.AddHostKey(hostKey)

	return config, nil
}

// checkAuthRateLimit allows at most 5 attempts per remote IP in a
// 10-minute window that starts at the IP's first attempt; the count resets
// once that window has passed.
func (s *Server) checkAuthRateLimit(remoteIP string) bool {
	s.ipAttemptsMu.Lock()
	defer s.ipAttemptsMu.Unlock()

	now := time.Now()
	info, exists := s.ipAttempts[remoteIP]
	if !exists || now.Sub(info.firstSeen) > 10*time.Minute {
		s.ipAttempts[remoteIP] = ipAttemptsInfo{count: 1, firstSeen: now}
		return true
	}

	info.count++
	s.ipAttempts[remoteIP] = info
	return info.count <= 5
}

func (s *Server) resetAuthRateLimit(remoteIP string) {
	s.ipAttemptsMu.Lock()
	defer s.ipAttemptsMu.Unlock()
	delete(s.ipAttempts, remoteIP)
}
