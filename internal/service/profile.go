package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/repository"
	"github.com/google/uuid"
)

// ProfileStore reads the entitlement-relevant columns of a user.
type ProfileStore struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewProfileStore creates a Postgres-backed profile store.
func NewProfileStore(queries *repository.Queries, logger *slog.Logger) *ProfileStore {
	return &ProfileStore{
		queries: queries,
		logger:  logger,
	}
}

func (s *ProfileStore) GetProfile(ctx context.Context, userID uuid.UUID) (domain.ProfileFact, error) {
	const op = "profile.get"

	row, err := s.queries.GetUserEntitlementProfile(ctx, userID)
	if err != nil {
		if isNoRows(err) {
			return domain.ProfileFact{}, domain.NotFound(op, "user", userID.String())
		}
		return domain.ProfileFact{}, domain.Internal(err, op, "failed to read profile")
	}

	return profileToDomain(row), nil
}

func profileToDomain(row repository.GetUserEntitlementProfileRow) domain.ProfileFact {
	var trialEndsAt *time.Time
	if row.TrialEndsAt.Valid {
		t := row.TrialEndsAt.Time
		trialEndsAt = &t
	}

	role := domain.Role(row.Role)
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}

	return domain.ProfileFact{
		UserID:      row.ID,
		Role:        role,
		IsPremium:   row.IsPremium,
		TrialEndsAt: trialEndsAt,
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
