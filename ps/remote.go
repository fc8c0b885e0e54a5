package ps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"
)

// snapshotRefSpec carries the tags created by Snapshot.
const snapshotRefSpec = config.RefSpec("refs/tags/*:refs/tags/*")

// AuthType selects how RemoteAuth authenticates.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds the credentials for a push or fetch.
type RemoteAuth struct {
	Type       AuthType
	Token      string
	KeyPath    string // defaults to ~/.ssh/id_ed25519, then ~/.ssh/id_rsa
	Passphrase string
	Username   string // basic auth; also the token user when set
	Password   string
}

// Remote is a configured backup location of the catalog repository.
type Remote struct {
	Name string
	URLs []string
}

// SyncResult reports the catalog head a remote holds after a push or fetch.
type SyncResult struct {
	Remote   string
	Head     Transaction
	UpToDate bool
}

func (auth *RemoteAuth) method() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	switch auth.Type {
	case AuthTypeNone, "":
		return nil, nil
	case AuthTypeToken:
		user := auth.Username
		if user == "" {
			user = "git"
		}
		return &http.BasicAuth{Username: user, Password: auth.Token}, nil
	case AuthTypeBasic:
		return &http.BasicAuth{Username: auth.Username, Password: auth.Password}, nil
	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			keyPath = defaultSSHKey()
		}
		return ssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)
	default:
		return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
	}
}

func defaultSSHKey() string {
	home, _ := os.UserHomeDir()
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(home, ".ssh", "id_rsa")
}

// AddRemote adds a named remote to the repository
func (p *Persistence) AddRemote(name, url string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if err != nil {
		return fmt.Errorf("failed to add remote %q: %w", name, err)
	}
	return nil
}

// ListRemotes returns the configured remotes sorted by name.
func (p *Persistence) ListRemotes() ([]Remote, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	remotes, err := p.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}

	result := make([]Remote, 0, len(remotes))
	for _, r := range remotes {
		cfg := r.Config()
		result = append(result, Remote{Name: cfg.Name, URLs: cfg.URLs})
	}
	slices.SortFunc(result, func(a, b Remote) int { return strings.Compare(a.Name, b.Name) })
	return result, nil
}

// RemoveRemote removes a remote and the catalog head fetched from it.
func (p *Persistence) RemoveRemote(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.repo.DeleteRemote(name); err != nil {
		return fmt.Errorf("failed to remove remote %q: %w", name, err)
	}
	err := p.repo.Storer.RemoveReference(p.remoteRef(name))
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return err
	}
	return nil
}

// Push sends the catalog branch and every snapshot tag to a remote
// (origin when empty). The remote branch only moves forward: a remote
// holding commits this catalog has not seen rejects the push.
func (p *Persistence) Push(ctx context.Context, remoteName string, auth *RemoteAuth) (SyncResult, error) {
	if err := p.ensureInitialized(); err != nil {
		return SyncResult{}, err
	}
	if remoteName == "" {
		remoteName = git.DefaultRemoteName
	}
	method, err := auth.method()
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to configure auth: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	head, err := p.headRef()
	if err != nil {
		return SyncResult{}, err
	}

	branchSpec := config.RefSpec(fmt.Sprintf("%s:%s", p.branch, p.branch))
	err = p.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{branchSpec, snapshotRefSpec},
		Auth:       method,
	})
	upToDate := errors.Is(err, git.NoErrAlreadyUpToDate)
	if err != nil && !upToDate {
		return SyncResult{}, fmt.Errorf("failed to push to %q: %w", remoteName, err)
	}

	return SyncResult{Remote: remoteName, Head: p.transactionAt(head.Hash()), UpToDate: upToDate}, nil
}

// Fetch downloads the catalog branch and snapshot tags of a remote (origin
// when empty) without touching the local catalog. The fetched head is
// kept as the remote's head and can be adopted with Restore.
func (p *Persistence) Fetch(ctx context.Context, remoteName string, auth *RemoteAuth) (SyncResult, error) {
	if err := p.ensureInitialized(); err != nil {
		return SyncResult{}, err
	}
	if remoteName == "" {
		remoteName = git.DefaultRemoteName
	}
	method, err := auth.method()
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to configure auth: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	branchSpec := config.RefSpec(fmt.Sprintf("+%s:%s", p.branch, p.remoteRef(remoteName)))
	err = p.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{branchSpec, snapshotRefSpec},
		Auth:       method,
		Tags:       plumbing.NoTags,
	})
	upToDate := errors.Is(err, git.NoErrAlreadyUpToDate)
	if err != nil && !upToDate {
		return SyncResult{}, fmt.Errorf("failed to fetch from %q: %w", remoteName, err)
	}

	ref, err := p.repo.Storer.Reference(p.remoteRef(remoteName))
	if err != nil {
		return SyncResult{}, fmt.Errorf("remote %q has no catalog branch %s: %w", remoteName, p.Branch(), err)
	}
	return SyncResult{Remote: remoteName, Head: p.transactionAt(ref.Hash()), UpToDate: upToDate}, nil
}

// RemoteHead is the catalog head of a remote as of the last Fetch.
func (p *Persistence) RemoteHead(remoteName string) (Transaction, error) {
	if err := p.ensureInitialized(); err != nil {
		return Transaction{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	ref, err := p.repo.Storer.Reference(p.remoteRef(remoteName))
	if err != nil {
		return Transaction{}, fmt.Errorf("no fetched catalog head for remote %q: %w", remoteName, err)
	}
	return p.transactionAt(ref.Hash()), nil
}

func (p *Persistence) remoteRef(remoteName string) plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(remoteName, p.Branch())
}
