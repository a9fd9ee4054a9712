// profile.go — репозиторий профилей submitter-ов (таблица profiles).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
)

const profileColumns = "uuid, identity, display_name, config_version, total_weight_grams, created_at, updated_at"

// ProfileRepository — интерфейс доступа к профилям.
type ProfileRepository interface {
	// Ensure возвращает профиль по identity, создавая его при отсутствии.
	// UUID присваивается один раз при создании и далее стабилен.
	Ensure(ctx context.Context, db DBTX, profile *model.Profile) (*model.Profile, error)
	// GetByUUID возвращает профиль по routing-токену.
	GetByUUID(ctx context.Context, db DBTX, uuid string) (*model.Profile, error)
	// GetByIdentity возвращает профиль по федеративному identity.
	GetByIdentity(ctx context.Context, db DBTX, identity string) (*model.Profile, error)
	// SetConfigVersion отмечает, под какую версию конфигурации
	// профиль персонализирован в последний раз.
	SetConfigVersion(ctx context.Context, db DBTX, uuid string, version string) error
	// AddFilamentWeight увеличивает накопленный расход филамента (граммы).
	AddFilamentWeight(ctx context.Context, db DBTX, identity string, grams float64) error
}

type profileRepo struct{}

// NewProfileRepository создаёт репозиторий профилей.
func NewProfileRepository() ProfileRepository {
	return &profileRepo{}
}

func (r *profileRepo) Ensure(ctx context.Context, db DBTX, profile *model.Profile) (*model.Profile, error) {
	// Upsert по identity: display_name обновляем (мог поменяться в IdP),
	// uuid и счётчики не трогаем.
	query := fmt.Sprintf(`
		INSERT INTO profiles (uuid, identity, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    updated_at = now()
		RETURNING %s`, profileColumns)

	return scanProfile(db.QueryRow(ctx, query, profile.UUID, profile.Identity, profile.DisplayName))
}

func (r *profileRepo) GetByUUID(ctx context.Context, db DBTX, uuid string) (*model.Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE uuid = $1`, profileColumns)
	return r.getOne(ctx, db, query, uuid)
}

func (r *profileRepo) GetByIdentity(ctx context.Context, db DBTX, identity string) (*model.Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE identity = $1`, profileColumns)
	return r.getOne(ctx, db, query, identity)
}

func (r *profileRepo) SetConfigVersion(ctx context.Context, db DBTX, uuid string, version string) error {
	tag, err := db.Exec(ctx, `
		UPDATE profiles
		SET config_version = $2, updated_at = now()
		WHERE uuid = $1`, uuid, version)
	if err != nil {
		return fmt.Errorf("ошибка обновления версии конфигурации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepo) AddFilamentWeight(ctx context.Context, db DBTX, identity string, grams float64) error {
	tag, err := db.Exec(ctx, `
		UPDATE profiles
		SET total_weight_grams = total_weight_grams + $2, updated_at = now()
		WHERE identity = $1`, identity, grams)
	if err != nil {
		return fmt.Errorf("ошибка обновления расхода филамента: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepo) getOne(ctx context.Context, db DBTX, query string, arg any) (*model.Profile, error) {
	profile, err := scanProfile(db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return profile, nil
}

func scanProfile(row pgx.Row) (*model.Profile, error) {
	p := &model.Profile{}
	err := row.Scan(
		&p.UUID, &p.Identity, &p.DisplayName,
		&p.ConfigVersion, &p.TotalWeightGrams,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка сканирования профиля: %w", err)
	}
	return p, nil
}
