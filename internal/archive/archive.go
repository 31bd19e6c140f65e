// Package archive uploads sweep artifacts to a remote host over SFTP.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultConnectTimeout is the default timeout for establishing SSH connections
	DefaultConnectTimeout = 30 * time.Second
)

// Credentials holds SSH connection details for the archive host
type Credentials struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte // PEM-encoded private key
	// KnownHosts is a known_hosts file used to verify the host key. The host
	// key is not checked when it is empty.
	KnownHosts string
}

// Validate checks that the credentials have all required fields
func (c *Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if len(c.PrivateKey) == 0 {
		return fmt.Errorf("private key cannot be empty")
	}
	return nil
}

// LoadKey reads the private key from keyFile into the credentials.
func (c *Credentials) LoadKey(keyFile string) error {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	c.PrivateKey = key
	return nil
}

// session is an open SFTP session and the connection carrying it.
type session struct {
	client *sftp.Client
	closer io.Closer
}

func (s *session) Close() error {
	err := s.client.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Archiver uploads files below a remote base directory, one subdirectory
// per sweep.
type Archiver struct {
	creds          Credentials
	remoteDir      string
	connectTimeout time.Duration
	open           func(ctx context.Context) (*session, error)
}

// Option configures an Archiver instance
type Option func(*Archiver)

// WithConnectTimeout sets the connection timeout. Non-positive values keep
// the default.
func WithConnectTimeout(d time.Duration) Option {
	return func(a *Archiver) {
		if d > 0 {
			a.connectTimeout = d
		}
	}
}

// New creates a new Archiver for the given credentials and remote base
// directory.
func New(creds Credentials, remoteDir string, opts ...Option) *Archiver {
	a := &Archiver{
		creds:          creds,
		remoteDir:      remoteDir,
		connectTimeout: DefaultConnectTimeout,
	}
	a.open = a.dial

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// RemotePath returns where a local file of the given sweep is stored.
func (a *Archiver) RemotePath(sweepID, localPath string) string {
	return path.Join(a.remoteDir, sweepID, filepath.Base(localPath))
}

// Archive uploads files to <remote dir>/<sweep id>/ over a single
// connection. It stops at the first failing file.
func (a *Archiver) Archive(ctx context.Context, sweepID string, files []string) error {
	if sweepID == "" {
		return fmt.Errorf("sweep id cannot be empty")
	}
	if len(files) == 0 {
		return nil
	}

	for _, f := range files {
		if err := checkLocalFile(f); err != nil {
			return err
		}
	}

	sess, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer sess.Close()

	dir := path.Join(a.remoteDir, sweepID)
	if err := sess.client.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
	}

	for _, f := range files {
		if err := upload(ctx, sess.client, f, a.RemotePath(sweepID, f)); err != nil {
			return err
		}
	}
	return nil
}

func checkLocalFile(localPath string) error {
	if localPath == "" {
		return fmt.Errorf("local path cannot be empty")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("local path is a directory, not a file")
	}
	return nil
}

func upload(ctx context.Context, client *sftp.Client, localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remoteFile, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	// Copy with context cancellation support
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, localFile)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", localPath, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	}
}

// dial establishes an SSH connection to the archive host and opens an SFTP
// session on it.
func (a *Archiver) dial(ctx context.Context) (*session, error) {
	if err := a.creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(a.creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if a.creds.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(a.creds.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	config := &ssh.ClientConfig{
		User: a.creds.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         a.connectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", a.creds.Host, a.creds.Port)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	return &session{client: client, closer: conn}, nil
}
