package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// GitConfig points the git source at a catalog repository. When URL is
// empty Dir must already hold a repository.
type GitConfig struct {
	Dir            string
	URL            string
	Branch         string
	CategoriesPath string
	ContextsPath   string
	DisplayPath    string
}

// GitSource reads the catalog from the HEAD commit of a git repository and
// dates it with the newest commit touching the categories path.
type GitSource struct {
	cfg    GitConfig
	mu     sync.Mutex
	logger *zap.Logger
}

func NewGitSource(cfg GitConfig, logger *zap.Logger) *GitSource {
	if cfg.CategoriesPath == "" {
		cfg.CategoriesPath = "keywords/categories"
	}
	if cfg.ContextsPath == "" {
		cfg.ContextsPath = "keywords/context-groups.json"
	}
	if cfg.DisplayPath == "" {
		cfg.DisplayPath = "keywords/display-config.json"
	}
	cfg.CategoriesPath = strings.Trim(cfg.CategoriesPath, "/")
	return &GitSource{cfg: cfg, logger: nopIfNil(logger).Named("catalog.git")}
}

func (s *GitSource) Load(ctx context.Context) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openRepo(ctx)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}

	raw := rawCatalog{categoryFiles: make(map[string][]byte)}
	if err := readCategoryFiles(commitObj, s.cfg.CategoriesPath, raw.categoryFiles); err != nil {
		return nil, err
	}
	raw.contexts = s.optionalFile(commitObj, s.cfg.ContextsPath)
	raw.display = s.optionalFile(commitObj, s.cfg.DisplayPath)

	lastModified, err := lastTouched(repo, head.Hash(), s.cfg.CategoriesPath)
	if err != nil {
		s.logger.Warn("last modified lookup failed", zap.Error(err))
	}
	raw.lastModified = lastModified

	return assemble(raw, s.logger), nil
}

func (s *GitSource) openRepo(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.cfg.Dir)
	if errors.Is(err, git.ErrRepositoryNotExists) && s.cfg.URL != "" {
		cloneOpts := &git.CloneOptions{URL: s.cfg.URL, Depth: 0}
		if s.cfg.Branch != "" {
			cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(s.cfg.Branch)
			cloneOpts.SingleBranch = true
		}
		repo, err = git.PlainCloneContext(ctx, s.cfg.Dir, false, cloneOpts)
		if err != nil {
			return nil, fmt.Errorf("clone catalog repo: %w", err)
		}
		return repo, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog repo: %w", err)
	}

	if s.cfg.URL == "" {
		return repo, nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	pullOpts := &git.PullOptions{RemoteName: "origin"}
	if s.cfg.Branch != "" {
		pullOpts.ReferenceName = plumbing.NewBranchReferenceName(s.cfg.Branch)
	}
	if err := worktree.PullContext(ctx, pullOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		s.logger.Warn("catalog pull failed, using local checkout", zap.Error(err))
	}
	return repo, nil
}

func (s *GitSource) optionalFile(commitObj *object.Commit, name string) []byte {
	file, err := commitObj.File(name)
	if err != nil {
		if !errors.Is(err, object.ErrFileNotFound) {
			s.logger.Warn("read catalog file", zap.String("file", name), zap.Error(err))
		}
		return nil
	}
	contents, err := file.Contents()
	if err != nil {
		s.logger.Warn("read catalog file", zap.String("file", name), zap.Error(err))
		return nil
	}
	return []byte(contents)
}

func readCategoryFiles(commitObj *object.Commit, dir string, into map[string][]byte) error {
	tree, err := commitObj.Tree()
	if err != nil {
		return fmt.Errorf("load commit tree: %w", err)
	}
	categories, err := tree.Tree(dir)
	if err != nil {
		return fmt.Errorf("open categories path %s: %w", dir, err)
	}
	for _, entry := range categories.Entries {
		if !entry.Mode.IsFile() || !isCategoryFile(entry.Name) {
			continue
		}
		file, err := categories.File(entry.Name)
		if err != nil {
			return fmt.Errorf("load %s: %w", path.Join(dir, entry.Name), err)
		}
		contents, err := file.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", path.Join(dir, entry.Name), err)
		}
		into[entry.Name] = []byte(contents)
	}
	return nil
}

func lastTouched(repo *git.Repository, from plumbing.Hash, dir string) (string, error) {
	prefix := dir + "/"
	iter, err := repo.Log(&git.LogOptions{
		From: from,
		PathFilter: func(p string) bool {
			return strings.HasPrefix(p, prefix)
		},
	})
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var formatted string
	err = iter.ForEach(func(commitObj *object.Commit) error {
		formatted = commitObj.Committer.When.Format(LastModifiedLayout)
		return io.EOF
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("iterate log: %w", err)
	}
	return formatted, nil
}
