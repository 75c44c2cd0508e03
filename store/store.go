// Package store defines persistence interfaces for devroom.
package store

import (
	"context"
	"errors"

	"github.com/devroom-ai/devroom/model"
)

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("project not found")

// ErrDuplicateName is returned when creating a project whose name is taken.
var ErrDuplicateName = errors.New("project name already in use")

// ProjectStore persists projects and their member lists.
type ProjectStore interface {
	// CreateProject inserts a new project. The ID and timestamps must be
	// set by the caller. Returns ErrDuplicateName on a name collision.
	CreateProject(ctx context.Context, p *model.Project) error

	// GetProject retrieves a project by ID. Returns ErrNotFound if absent.
	GetProject(ctx context.Context, id string) (*model.Project, error)

	// ListProjects returns all projects, newest first.
	ListProjects(ctx context.Context) ([]*model.Project, error)

	// UpdateUsers replaces a project's member list. Returns ErrNotFound
	// if the project does not exist.
	UpdateUsers(ctx context.Context, id string, users []string) error

	// ProjectExists reports whether a project with the given ID exists.
	ProjectExists(ctx context.Context, id string) (bool, error)

	// Close releases the store's resources.
	Close() error
}
