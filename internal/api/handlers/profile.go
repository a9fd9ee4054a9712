// profile.go — обработчик профиля текущего submitter-а.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/VT-CRO/Workcell-Queue/internal/api/errors"
	"github.com/VT-CRO/Workcell-Queue/internal/api/middleware"
	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/service"
)

// ProfileHandler реализует GET /api/v1/profile.
type ProfileHandler struct {
	cfg        *config.Config
	profileSvc *service.ProfileService
	logger     *slog.Logger
}

// NewProfileHandler создаёт обработчик профиля.
func NewProfileHandler(cfg *config.Config, profileSvc *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		cfg:        cfg,
		profileSvc: profileSvc,
		logger:     logger.With(slog.String("component", "profile_handler")),
	}
}

// Get обрабатывает GET /api/v1/profile.
// Возвращает профиль текущего пользователя, создавая его при первом
// обращении. uuid из ответа — routing-токен для маршрутов устройства.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	profile, err := h.profileSvc.Ensure(r.Context(), claims.Identity, claims.DisplayName)
	if err != nil {
		h.logger.Error("Ошибка получения профиля",
			slog.String("identity", claims.Identity),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uuid":         profile.UUID,
		"display_name": profile.DisplayName,
		"is_admin":     claims.IsAdmin,
		// Актуальность персонализации: false — нужен повторный
		// download конфигурации, иначе загрузки будут отклоняться
		"config_current":     profile.ConfigVersion == h.cfg.ConfigVersion,
		"total_weight_grams": profile.TotalWeightGrams,
	})
}
