package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stateline/internal/config"
	"stateline/internal/domain"
	"stateline/internal/repo"
)

// EnsureProject makes sure the configured project exists in the database,
// seeding it on first use: the project row, its members from the config
// directory, the default workflow and a scheme pointing every issue type at
// it. Idempotent; safe to call on every command.
func EnsureProject(ctx context.Context, cfg *config.Config, r repo.Repo) (domain.Project, error) {
	p, err := r.GetProject(ctx, cfg.Project.ID)
	if err == nil {
		if err := syncDirectory(ctx, cfg, r); err != nil {
			return domain.Project{}, err
		}
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}

	now := time.Now().UTC()
	p = domain.Project{
		ID:        cfg.Project.ID,
		Key:       cfg.Project.Key,
		Name:      cfg.Project.Name,
		LeadEmail: cfg.Project.Lead,
		CreatedAt: now.Format(time.RFC3339),
	}

	def := config.DefaultWorkflowDef()
	wf, err := def.ToWorkflow(orgID(cfg), now)
	if err != nil {
		return domain.Project{}, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := r.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := r.SaveWorkflowTx(ctx, tx, wf); err != nil {
		return domain.Project{}, fmt.Errorf("seed default workflow: %w", err)
	}
	if err := r.SaveSchemeTx(ctx, tx, domain.Scheme{
		ProjectID:         p.ID,
		Name:              p.Key + " scheme",
		DefaultWorkflowID: wf.ID,
		IsActive:          true,
	}); err != nil {
		return domain.Project{}, fmt.Errorf("seed scheme: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}

	if err := syncDirectory(ctx, cfg, r); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// syncDirectory mirrors the config's user directory into the users and
// project_members tables.
func syncDirectory(ctx context.Context, cfg *config.Config, r repo.Repo) error {
	for email, u := range cfg.Directory.Users {
		if err := r.UpsertUser(ctx, domain.User{Email: email, Name: u.Name}); err != nil {
			return fmt.Errorf("upsert user %s: %w", email, err)
		}
		if err := r.UpsertMember(ctx, cfg.Project.ID, email, u.Role); err != nil {
			return fmt.Errorf("upsert member %s: %w", email, err)
		}
	}
	return nil
}

// ResolveActor maps an actor id (email) to a User, preferring the config
// directory over the users table.
func ResolveActor(ctx context.Context, cfg *config.Config, r repo.Repo, actorID string) (domain.User, error) {
	if actorID == "" {
		return domain.User{}, fmt.Errorf("actor not specified; use --actor or STATELINE_ACTOR")
	}
	if cfg != nil {
		if u, ok := cfg.Directory.Users[actorID]; ok {
			return domain.User{Email: actorID, Name: u.Name}, nil
		}
	}
	u, err := r.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{Email: actorID}, nil
		}
		return domain.User{}, err
	}
	return u, nil
}

func orgID(cfg *config.Config) string {
	if cfg.Org != "" {
		return cfg.Org
	}
	return "default-org"
}
