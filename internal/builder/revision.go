package builder

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v6"
	"github.com/qobs-build/qbuild/internal/msg"
)

// unknownRevision is stamped when the project is not inside a git checkout.
const unknownRevision = "unknown"

// revisionLength is how many hex digits of the HEAD commit are stamped.
const revisionLength = 12

// revision returns the abbreviated HEAD commit of the repository containing dir.
func revision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		msg.Warn("%s is not a git repository, stamping revision %q", dir, unknownRevision)
		return unknownRevision, nil
	}
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}

	hash := head.Hash().String()
	if len(hash) > revisionLength {
		hash = hash[:revisionLength]
	}
	return hash, nil
}
