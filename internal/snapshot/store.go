// Package snapshot persists the warm-start member list so a restart can
// re-probe known identities instead of minting new ones.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/OldStager01/egress-gateway/pkg/config"
	"github.com/OldStager01/egress-gateway/pkg/database/queries"
	"github.com/OldStager01/egress-gateway/pkg/models"
)

const (
	TypeNone     = "none"
	TypeFile     = "file"
	TypePostgres = "postgres"
)

var ErrUnknownType = errors.New("unknown snapshot store type")

// Store saves and loads the ordered member records.
type Store interface {
	Save(ctx context.Context, records []models.MemberRecord) error
	// Load returns no records and no error when nothing was saved yet.
	Load(ctx context.Context) ([]models.MemberRecord, error)
	Name() string
}

// New builds the store selected by cfg. db is only used by the postgres store.
func New(cfg config.SnapshotConfig, db *sql.DB) (Store, error) {
	switch cfg.Type {
	case "", TypeNone:
		return NopStore{}, nil
	case TypeFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("snapshot path is required for the file store")
		}
		return NewFileStore(cfg.Path), nil
	case TypePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres snapshot store requires database.enabled")
		}
		return NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
}

type NopStore struct{}

func (NopStore) Save(context.Context, []models.MemberRecord) error { return nil }

func (NopStore) Load(context.Context) ([]models.MemberRecord, error) { return nil, nil }

func (NopStore) Name() string { return TypeNone }

type PostgresStore struct {
	members *queries.MemberRepository
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{members: queries.NewMemberRepository(db)}
}

func (s *PostgresStore) Save(ctx context.Context, records []models.MemberRecord) error {
	if err := s.members.ReplaceAll(ctx, records); err != nil {
		return fmt.Errorf("failed to save member snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.MemberRecord, error) {
	records, err := s.members.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load member snapshot: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Name() string { return TypePostgres }
