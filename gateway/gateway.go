// Package gateway authenticates inbound connections and binds each one to
// exactly one project.
//
// Validation short-circuits in a fixed order: token presence, project ID
// syntax, token signature and expiry, then project existence. The gateway
// produces an immutable Session on success and mutates no shared state.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/devroom-ai/devroom/model"
)

// Reason identifies why a handshake was rejected.
type Reason string

const (
	AuthMissing     Reason = "auth_missing"
	InvalidProject  Reason = "invalid_project"
	AuthInvalid     Reason = "auth_invalid"
	AuthExpired     Reason = "auth_expired"
	ProjectNotFound Reason = "project_not_found"
)

// RejectError reports a rejected handshake. The connection never joins a
// room; the error is delivered to the connecting client only.
type RejectError struct {
	Reason Reason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("handshake rejected: %s", e.Reason)
}

// ProjectLookup resolves whether a project exists. Implemented by the
// project store.
type ProjectLookup interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
}

// Params are the connection-establishment parameters.
type Params struct {
	Token     string
	ProjectID string
}

// Gateway validates handshakes.
type Gateway struct {
	secret   []byte
	projects ProjectLookup
}

// New creates a Gateway that verifies HS256 tokens signed with secret and
// resolves projects through the given lookup.
func New(secret []byte, projects ProjectLookup) *Gateway {
	return &Gateway{secret: secret, projects: projects}
}

// Authenticate validates the handshake parameters and produces a Session,
// or a *RejectError describing the first failed check.
func (g *Gateway) Authenticate(ctx context.Context, params Params) (*model.Session, error) {
	if params.Token == "" {
		return nil, &RejectError{Reason: AuthMissing}
	}

	if params.ProjectID == "" {
		return nil, &RejectError{Reason: InvalidProject}
	}
	if _, err := uuid.Parse(params.ProjectID); err != nil {
		return nil, &RejectError{Reason: InvalidProject}
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(params.Token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &RejectError{Reason: AuthExpired}
		}
		return nil, &RejectError{Reason: AuthInvalid}
	}

	exists, err := g.projects.ProjectExists(ctx, params.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	if !exists {
		return nil, &RejectError{Reason: ProjectNotFound}
	}

	return &model.Session{
		ConnID:    uuid.New().String(),
		ProjectID: params.ProjectID,
		Claims:    claims,
	}, nil
}
