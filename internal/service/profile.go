// profile.go — профили submitter-ов и их routing-токены.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
	"github.com/VT-CRO/Workcell-Queue/internal/repository"
)

// ProfileService — сервис профилей.
type ProfileService struct {
	pool        *pgxpool.Pool
	profileRepo repository.ProfileRepository
	logger      *slog.Logger
}

// NewProfileService создаёт сервис профилей.
func NewProfileService(
	pool *pgxpool.Pool,
	profileRepo repository.ProfileRepository,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		pool:        pool,
		profileRepo: profileRepo,
		logger:      logger.With(slog.String("component", "profile_service")),
	}
}

// Ensure возвращает профиль по identity, создавая при первом обращении.
// UUID (routing-токен устройства) генерируется один раз и далее стабилен.
func (s *ProfileService) Ensure(ctx context.Context, identity, displayName string) (*model.Profile, error) {
	profile, err := s.profileRepo.Ensure(ctx, s.pool, &model.Profile{
		UUID:        uuid.New().String(),
		Identity:    identity,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetByUUID возвращает профиль по routing-токену устройства.
// Неизвестный или невалидный uuid — ErrForbidden:
// токен и есть авторизация устройства.
func (s *ProfileService) GetByUUID(ctx context.Context, id string) (*model.Profile, error) {
	// Валидация до запроса: невалидный uuid — ошибка типа в PostgreSQL
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrForbidden
	}
	profile, err := s.profileRepo.GetByUUID(ctx, s.pool, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return profile, nil
}
