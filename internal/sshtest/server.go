// Package sshtest runs an in-process SSH server for tests. It answers "exec"
// requests with a caller supplied handler and serves the "sftp" subsystem
// from an in-memory filesystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Handler serves one exec request and returns its exit status.
type Handler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) uint32

type Server struct {
	Host      string
	Port      int
	PublicKey ssh.PublicKey
	Password  string

	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 that accepts password auth with
// the given password. It is closed with the test.
func NewServer(t testing.TB, password string, handler Handler) *Server {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)

	s := &Server{
		Host:      host,
		Port:      p,
		PublicKey: signer.PublicKey(),
		Password:  password,
		listener:  ln,
		handler:   handler,
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == s.Password {
				return nil, nil
			}
			return nil, errWrongPassword
		},
	}
	cfg.AddHostKey(signer)

	s.wg.Add(1)
	go s.serve(cfg)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Commands returns every exec command received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve(cfg *ssh.ServerConfig) {
	defer s.wg.Done()
	fs := sftp.InMemHandler()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn, cfg, fs)
	}
}

func (s *Server) handleConn(conn net.Conn, cfg *ssh.ServerConfig, fs sftp.Handlers) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, creqs, fs)
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request, fs sftp.Handlers) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()

			status := s.handler(payload.Command, ch, ch, ch.Stderr())
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			server := sftp.NewRequestServer(ch, fs)
			_ = server.Serve()
			server.Close()
			return
		default:
			req.Reply(false, nil)
		}
	}
}

type authError string

func (e authError) Error() string { return string(e) }

const errWrongPassword = authError("wrong password")
