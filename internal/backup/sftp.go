// Copyright (c) 2026 pgkeeper contributors
// pgkeeper - hardware-aware PostgreSQL server keeper
// This source code is licensed under the MIT license found in the LICENSE file.

package backup

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/pgkeeper/pgkeeper/internal/logging"
	"github.com/pgkeeper/pgkeeper/internal/model"
	"golang.org/x/crypto/ssh"
)

// Remote describes the offsite backup target. HostKey is the expected
// public key in authorized_keys format; connections to a host presenting
// any other key are refused.
type Remote struct {
	Host    string
	User    string
	Path    string
	KeyFile string
	HostKey string
}

// uploader wraps an SSH connection and its SFTP channel.
type uploader struct {
	client *ssh.Client
	sftp   *sftp.Client
}

func dialRemote(r Remote) (*uploader, error) {
	if r.HostKey == "" {
		return nil, fmt.Errorf("no pinned host key for %s; refusing to upload", r.Host)
	}
	pinned, _, _, _, err := ssh.ParseAuthorizedKey([]byte(r.HostKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pinned host key: %w", err)
	}

	hostKeyCallback := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if string(ssh.MarshalAuthorizedKey(key)) != string(ssh.MarshalAuthorizedKey(pinned)) {
			return fmt.Errorf("host key mismatch for %s, presented %s", hostname,
				string(ssh.MarshalAuthorizedKey(key)))
		}
		return nil
	}

	keyData, err := os.ReadFile(r.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %s: %w", r.KeyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	addr := r.Host
	if _, _, err := net.SplitHostPort(r.Host); err != nil {
		addr = net.JoinHostPort(r.Host, "22")
	}

	config := &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &uploader{client: client, sftp: sftpClient}, nil
}

func (u *uploader) close() {
	_ = u.sftp.Close()
	_ = u.client.Close()
}

func (u *uploader) put(localPath, remoteDir string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = src.Close() }()

	if err := u.sftp.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("failed to create remote dir %s: %w", remoteDir, err)
	}

	remotePath := path.Join(remoteDir, path.Base(localPath))
	tmpPath := remotePath + ".partial"
	dst, err := u.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = u.sftp.Remove(tmpPath)
		return fmt.Errorf("upload of %s failed: %w", localPath, err)
	}
	if err := dst.Close(); err != nil {
		_ = u.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	// Rename after a complete write so the remote side never sees a
	// truncated archive under the final name.
	_ = u.sftp.Remove(remotePath)
	if err := u.sftp.Rename(tmpPath, remotePath); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmpPath, err)
	}
	return nil
}

// Upload copies every backup that has not yet been uploaded to the remote
// and marks it in the catalog. Failures on one file do not stop the rest.
func (m *Manager) Upload(remote Remote) (int, error) {
	all, err := m.Store.ListBackups()
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}
	var pending []model.BackupRecord
	for _, rec := range all {
		if rec.UploadedAt.IsZero() {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		logging.Debugf("no backups pending upload")
		return 0, nil
	}

	u, err := dialRemote(remote)
	if err != nil {
		return 0, err
	}
	defer u.close()

	uploaded := 0
	var firstErr error
	for _, rec := range pending {
		if err := u.put(rec.Path, remote.Path); err != nil {
			logging.Errorf("upload of %s failed: %v", rec.Path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := m.Store.MarkBackupUploaded(rec.ID, time.Now().UTC()); err != nil {
			logging.Warnf("uploaded %s but could not mark it: %v", rec.Path, err)
			continue
		}
		uploaded++
		logging.Infof("uploaded %s to %s:%s", path.Base(rec.Path), remote.Host, remote.Path)
	}
	if uploaded > 0 {
		if err := m.Store.LogAction("backup.upload", fmt.Sprintf("%d archives to %s", uploaded, remote.Host)); err != nil {
			logging.Warnf("failed to record audit entry: %v", err)
		}
	}
	return uploaded, firstErr
}
