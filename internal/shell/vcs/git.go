// Package vcs keeps the working copy of an application in sync with its remote repository.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// =============================================================================
// Strategy
// =============================================================================

// Strategy selects how an existing working copy is updated.
type Strategy string

const (
	// StrategyMerge fetches and fast-forwards the configured branch.
	StrategyMerge Strategy = "merge"
	// StrategyTag fetches all tags and checks out the tag derived from the version.
	StrategyTag Strategy = "tag"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyMerge, StrategyTag:
		return Strategy(s), nil
	case "":
		return StrategyMerge, nil
	default:
		return "", fmt.Errorf("%w: %q (want %q or %q)", ErrUnknownStrategy, s, StrategyMerge, StrategyTag)
	}
}

var (
	ErrUnknownStrategy = errors.New("unknown sync strategy")
	ErrCloneFailed     = errors.New("clone failed")
	ErrFetchFailed     = errors.New("fetch failed")
	ErrCheckoutFailed  = errors.New("checkout failed")
	ErrDirtyPath       = errors.New("path exists but is not a git working copy")
	ErrCredentials     = errors.New("invalid sync credentials")
)

// =============================================================================
// Syncer
// =============================================================================

// Config configures a Syncer.
type Config struct {
	Strategy Strategy
	Branch   string // branch to fast-forward with StrategyMerge, default "main"
	Token    string // optional HTTP basic auth password
	Username string // username sent with Token or the SSH key, default "git"

	// SSHKey is a private key file used for ssh:// and scp-style remotes.
	// It takes precedence over Token.
	SSHKey           string
	SSHKeyPassphrase string
	// KnownHosts pins the accepted host keys. When empty, go-git falls back
	// to SSH_KNOWN_HOSTS and ~/.ssh/known_hosts.
	KnownHosts string
}

// Target describes one sync operation.
type Target struct {
	URL  string // remote clone URL
	Path string // working copy directory
	Ref  string // tag to check out with StrategyTag
}

// Result describes what a sync did.
type Result struct {
	Cloned   bool
	Updated  bool   // false when already up to date
	Revision string // HEAD commit after the sync
}

// Syncer clones or updates working copies with go-git.
type Syncer struct {
	config Config
	logger *slog.Logger
}

// NewSyncer creates a new syncer.
func NewSyncer(config Config, logger *slog.Logger) *Syncer {
	if config.Strategy == "" {
		config.Strategy = StrategyMerge
	}
	if config.Branch == "" {
		config.Branch = "main"
	}
	if config.Username == "" {
		config.Username = "git"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		config: config,
		logger: logger.With("component", "vcs"),
	}
}

// Strategy returns the configured update strategy.
func (s *Syncer) Strategy() Strategy {
	return s.config.Strategy
}

// Sync clones target.URL into target.Path if no working copy exists yet,
// otherwise updates it in place according to the configured strategy.
func (s *Syncer) Sync(ctx context.Context, target Target) (Result, error) {
	auth, err := s.auth()
	if err != nil {
		return Result{}, err
	}

	_, err = os.Stat(filepath.Join(target.Path, ".git"))
	if err != nil && !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("stat working copy %s: %w", target.Path, err)
	}

	if os.IsNotExist(err) {
		return s.clone(ctx, target, auth)
	}
	return s.update(ctx, target, auth)
}

// clone performs a full clone. A failed clone leaves no directory behind.
func (s *Syncer) clone(ctx context.Context, target Target, auth transport.AuthMethod) (Result, error) {
	if entries, err := os.ReadDir(target.Path); err == nil && len(entries) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrDirtyPath, target.Path)
	}

	s.logger.Info("cloning repository", "url", target.URL, "path", target.Path)

	if err := os.MkdirAll(filepath.Dir(target.Path), 0755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCloneFailed, err)
	}

	opts := &git.CloneOptions{
		URL:  target.URL,
		Auth: auth,
		Tags: git.AllTags,
	}
	if s.config.Strategy == StrategyMerge {
		// Same branch the updates fast-forward, not whatever the remote HEAD is.
		opts.ReferenceName = plumbing.NewBranchReferenceName(s.config.Branch)
	}

	repo, err := git.PlainCloneContext(ctx, target.Path, false, opts)
	if err != nil {
		_ = os.RemoveAll(target.Path)
		return Result{}, fmt.Errorf("%w: %s: %v", ErrCloneFailed, target.URL, err)
	}

	if s.config.Strategy == StrategyTag {
		if err := s.checkoutTag(repo, target.Ref); err != nil {
			_ = os.RemoveAll(target.Path)
			return Result{}, err
		}
	}

	rev, err := headRevision(repo)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("repository cloned", "path", target.Path, "revision", short(rev))
	return Result{Cloned: true, Updated: true, Revision: rev}, nil
}

// update fetches and applies the configured strategy to an existing working copy.
func (s *Syncer) update(ctx context.Context, target Target, auth transport.AuthMethod) (Result, error) {
	repo, err := git.PlainOpen(target.Path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrDirtyPath, target.Path, err)
	}

	before, _ := headRevision(repo)

	s.logger.Info("fetching repository", "path", target.Path, "strategy", s.config.Strategy)
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return Result{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	switch s.config.Strategy {
	case StrategyTag:
		if err := s.checkoutTag(repo, target.Ref); err != nil {
			return Result{}, err
		}
	default:
		if err := s.fastForward(ctx, repo, auth); err != nil {
			return Result{}, err
		}
	}

	after, err := headRevision(repo)
	if err != nil {
		return Result{}, err
	}

	updated := before != after
	s.logger.Info("repository synchronized",
		"path", target.Path,
		"revision", short(after),
		"updated", updated,
	)
	return Result{Updated: updated, Revision: after}, nil
}

// fastForward pulls the configured branch. Already up to date is success.
func (s *Syncer) fastForward(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}

	branch := plumbing.NewBranchReferenceName(s.config.Branch)
	head, err := repo.Head()
	if err != nil || head.Name() != branch {
		remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, s.config.Branch), true)
		if err != nil {
			return fmt.Errorf("%w: branch %s: %v", ErrCheckoutFailed, s.config.Branch, err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Hash: remoteRef.Hash(), Create: !refExists(repo, branch), Force: true}); err != nil {
			return fmt.Errorf("%w: branch %s: %v", ErrCheckoutFailed, s.config.Branch, err)
		}
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: branch,
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: pull %s: %v", ErrFetchFailed, s.config.Branch, err)
	}
	return nil
}

// checkoutTag force-checks out the commit a tag points to (detached HEAD).
func (s *Syncer) checkoutTag(repo *git.Repository, tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: no tag given", ErrCheckoutFailed)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(plumbing.NewTagReferenceName(tag)))
	if err != nil {
		return fmt.Errorf("%w: tag %s: %v", ErrCheckoutFailed, tag, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("%w: tag %s: %v", ErrCheckoutFailed, tag, err)
	}

	s.logger.Info("checked out tag", "tag", tag, "revision", short(hash.String()))
	return nil
}

func (s *Syncer) auth() (transport.AuthMethod, error) {
	if s.config.SSHKey != "" {
		keys, err := gitssh.NewPublicKeysFromFile(s.config.Username, s.config.SSHKey, s.config.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("%w: ssh key %s: %v", ErrCredentials, s.config.SSHKey, err)
		}
		if s.config.KnownHosts != "" {
			callback, err := knownhosts.New(s.config.KnownHosts)
			if err != nil {
				return nil, fmt.Errorf("%w: known hosts %s: %v", ErrCredentials, s.config.KnownHosts, err)
			}
			keys.HostKeyCallback = callback
		}
		return keys, nil
	}

	if s.config.Token == "" {
		return nil, nil
	}
	return &githttp.BasicAuth{Username: s.config.Username, Password: s.config.Token}, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func headRevision(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func refExists(repo *git.Repository, name plumbing.ReferenceName) bool {
	_, err := repo.Reference(name, false)
	return err == nil
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
