package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type PublishedSites struct{ s *Store }

func (s *Store) PublishedSites() *PublishedSites { return &PublishedSites{s: s} }

// Create publishes a new site at slug after the caller has checked the
// owner's site-count limit and slug uniqueness; a collision on the
// primary key surfaces as apierr.ErrDuplicateSlug.
func (p *PublishedSites) Create(ctx context.Context, slug, workspaceID, ownerID string) (*PublishedSite, error) {
	now := time.Now()

	_, err := p.s.write.ExecContext(ctx,
		`INSERT INTO published_sites (slug, workspace_id, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		slug, workspaceID, ownerID, now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierr.ErrDuplicateSlug
		}

		return nil, fmt.Errorf("store: creating published site: %w", err)
	}

	return &PublishedSite{Slug: slug, WorkspaceID: workspaceID, OwnerID: ownerID, CreatedAt: now}, nil
}

// isUniqueViolation is a loose string match over SQLite's constraint
// error text; modernc.org/sqlite does not export a typed constraint
// error the way the mattn/go-sqlite3 cgo driver does.
func isUniqueViolation(err error) bool {
	return err != nil && containsFold(err.Error(), "UNIQUE constraint failed")
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}

	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}

		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}

		if ca != cb {
			return false
		}
	}

	return true
}

// GetBySlug returns one published site, or apierr.ErrNotFound.
func (p *PublishedSites) GetBySlug(ctx context.Context, slug string) (*PublishedSite, error) {
	row := p.s.read.QueryRowContext(ctx,
		`SELECT slug, workspace_id, owner_id, created_at, revoked_at FROM published_sites WHERE slug = ?`, slug)

	return scanPublishedSite(row)
}

func scanPublishedSite(s rowScanner) (*PublishedSite, error) {
	var (
		site      PublishedSite
		createdAt int64
		revokedAt sql.NullInt64
	)

	if err := s.Scan(&site.Slug, &site.WorkspaceID, &site.OwnerID, &createdAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning published site: %w", err)
	}

	site.CreatedAt = time.Unix(createdAt, 0)

	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0)
		site.RevokedAt = &t
	}

	return &site, nil
}

// ListByOwner returns every published site owned by ownerID.
func (p *PublishedSites) ListByOwner(ctx context.Context, ownerID string) ([]*PublishedSite, error) {
	rows, err := p.s.read.QueryContext(ctx,
		`SELECT slug, workspace_id, owner_id, created_at, revoked_at FROM published_sites
		 WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: listing published sites: %w", err)
	}
	defer rows.Close()

	var out []*PublishedSite

	for rows.Next() {
		site, err := scanPublishedSite(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, site)
	}

	return out, rows.Err()
}

// CountByOwner reports how many sites ownerID already has published,
// used for the site-count quota check before Create.
func (p *PublishedSites) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := p.s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM published_sites WHERE owner_id = ? AND revoked_at IS NULL`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting published sites: %w", err)
	}

	return n, nil
}

// Revoke takes a published site down; existing access tokens stop
// resolving once the handler checks RevokedAt, but are not deleted.
func (p *PublishedSites) Revoke(ctx context.Context, slug string) error {
	_, err := p.s.write.ExecContext(ctx,
		`UPDATE published_sites SET revoked_at = ? WHERE slug = ? AND revoked_at IS NULL`, time.Now().Unix(), slug)
	if err != nil {
		return fmt.Errorf("store: revoking published site: %w", err)
	}

	return nil
}

// RecordBuild inserts a new audience build row, one per (slug,
// audience) static export produced at publish time.
func (p *PublishedSites) RecordBuild(ctx context.Context, slug, audience string) (*AudienceBuild, error) {
	id := newID()
	now := time.Now()

	_, err := p.s.write.ExecContext(ctx,
		`INSERT INTO audience_builds (id, slug, audience, built_at) VALUES (?, ?, ?, ?)`,
		id, slug, audience, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: recording audience build: %w", err)
	}

	return &AudienceBuild{ID: id, Slug: slug, Audience: audience, BuiltAt: now}, nil
}

// ListBuildsBySlug returns every audience build recorded for slug,
// newest first.
func (p *PublishedSites) ListBuildsBySlug(ctx context.Context, slug string) ([]*AudienceBuild, error) {
	rows, err := p.s.read.QueryContext(ctx,
		`SELECT id, slug, audience, built_at FROM audience_builds WHERE slug = ? ORDER BY built_at DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("store: listing audience builds: %w", err)
	}
	defer rows.Close()

	var out []*AudienceBuild

	for rows.Next() {
		var (
			b       AudienceBuild
			builtAt int64
		)

		if err := rows.Scan(&b.ID, &b.Slug, &b.Audience, &builtAt); err != nil {
			return nil, fmt.Errorf("store: scanning audience build: %w", err)
		}

		b.BuiltAt = time.Unix(builtAt, 0)
		out = append(out, &b)
	}

	return out, rows.Err()
}

// IssueAccessToken mints a bearer token scoped to one audience build.
func (p *PublishedSites) IssueAccessToken(ctx context.Context, slug, audience string) (*AccessToken, error) {
	token := newToken()
	now := time.Now()

	_, err := p.s.write.ExecContext(ctx,
		`INSERT INTO access_tokens (token, slug, audience, created_at) VALUES (?, ?, ?, ?)`,
		token, slug, audience, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: issuing access token: %w", err)
	}

	return &AccessToken{Token: token, Slug: slug, Audience: audience, CreatedAt: now}, nil
}

// GetAccessToken validates and returns the access token, or
// apierr.ErrAuthInvalid if unknown or revoked.
func (p *PublishedSites) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	row := p.s.read.QueryRowContext(ctx,
		`SELECT token, slug, audience, created_at, revoked_at FROM access_tokens WHERE token = ?`, token)

	var (
		at        AccessToken
		createdAt int64
		revokedAt sql.NullInt64
	)

	if err := row.Scan(&at.Token, &at.Slug, &at.Audience, &createdAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrAuthInvalid
		}

		return nil, fmt.Errorf("store: scanning access token: %w", err)
	}

	if revokedAt.Valid {
		return nil, apierr.ErrAuthInvalid
	}

	at.CreatedAt = time.Unix(createdAt, 0)

	return &at, nil
}

// RevokeAccessToken revokes a single access token without taking the
// whole site down.
func (p *PublishedSites) RevokeAccessToken(ctx context.Context, token string) error {
	_, err := p.s.write.ExecContext(ctx,
		`UPDATE access_tokens SET revoked_at = ? WHERE token = ? AND revoked_at IS NULL`, time.Now().Unix(), token)
	if err != nil {
		return fmt.Errorf("store: revoking access token: %w", err)
	}

	return nil
}
