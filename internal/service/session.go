package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/DukeRupert/parley/internal/auth"
	"github.com/DukeRupert/parley/internal/domain"
	"github.com/DukeRupert/parley/internal/repository"
)

// SessionTokenLength is the length of a raw session token: 32 random bytes,
// hex encoded. Tokens are issued by the sign-in service; this package only
// validates and revokes them.
const SessionTokenLength = 64

// SessionService resolves bearer tokens to identities.
type SessionService struct {
	queries     *repository.Queries
	defaultZone *time.Location
	logger      *slog.Logger
}

// NewSessionService creates a SessionService. defaultZone is used when a
// user's stored time zone cannot be loaded.
func NewSessionService(queries *repository.Queries, defaultZone *time.Location, logger *slog.Logger) *SessionService {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &SessionService{
		queries:     queries,
		defaultZone: defaultZone,
		logger:      logger,
	}
}

// Authenticate looks up an unexpired session by its raw token.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	const op = "session.authenticate"

	if len(token) != SessionTokenLength {
		return nil, domain.Unauthorized(op, "Invalid session")
	}

	row, err := s.queries.GetSessionByTokenHash(ctx, hashSessionToken(token))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.Unauthorized(op, "Invalid session")
		}
		return nil, domain.Internal(err, op, "failed to look up session")
	}

	return &auth.Identity{
		SessionID: row.ID,
		UserID:    row.UserID,
		Location:  s.location(row.Timezone),
	}, nil
}

// Revoke deletes the session for token. Revoking an unknown or malformed
// token succeeds.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if len(token) != SessionTokenLength {
		return nil
	}

	if err := s.queries.DeleteSession(ctx, hashSessionToken(token)); err != nil {
		if !isNoRows(err) {
			s.logger.Warn("failed to delete session", "error", err)
		}
	}

	s.logger.Debug("session revoked")
	return nil
}

// PurgeExpired deletes session rows past their expiry.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "session.purge_expired"

	n, err := s.queries.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to delete expired sessions")
	}
	return n, nil
}

func (s *SessionService) location(name string) *time.Location {
	if name == "" {
		return s.defaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Warn("unknown user time zone, using default", "timezone", name, "error", err)
		return s.defaultZone
	}
	return loc
}

// hashSessionToken creates a SHA-256 hash of a session token. Only hashes
// are stored, so a leaked sessions table cannot be replayed.
func hashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
