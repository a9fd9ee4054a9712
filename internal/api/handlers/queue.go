// queue.go — обработчики очереди заданий печати (submitter API).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/VT-CRO/Workcell-Queue/internal/api/errors"
	"github.com/VT-CRO/Workcell-Queue/internal/api/middleware"
	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/service"
)

// uploadFieldName — имя multipart-поля с файлом задания.
const uploadFieldName = "gcode"

// QueueHandler реализует endpoints /api/v1/queue*.
type QueueHandler struct {
	cfg        *config.Config
	queueSvc   *service.QueueService
	profileSvc *service.ProfileService
	logger     *slog.Logger
}

// NewQueueHandler создаёт обработчик очереди.
func NewQueueHandler(
	cfg *config.Config,
	queueSvc *service.QueueService,
	profileSvc *service.ProfileService,
	logger *slog.Logger,
) *QueueHandler {
	return &QueueHandler{
		cfg:        cfg,
		queueSvc:   queueSvc,
		profileSvc: profileSvc,
		logger:     logger.With(slog.String("component", "queue_handler")),
	}
}

// Upload обрабатывает POST /api/v1/queue.
// Принимает multipart/form-data с полем gcode.
func (h *QueueHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	// Профиль нужен до приёма файла: счётчик веса пишется в него
	if _, err := h.profileSvc.Ensure(r.Context(), claims.Identity, claims.DisplayName); err != nil {
		h.logger.Error("Ошибка создания профиля", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	// Лимит на всё тело запроса: multipart заголовки + файл
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize)

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, "Файл превышает максимальный размер")
			return
		}
		apierrors.ValidationError(w, "Файл не передан: ожидается multipart-поле "+uploadFieldName)
		return
	}
	defer file.Close()

	job, err := h.queueSvc.Enqueue(r.Context(), service.EnqueueParams{
		Reader:            file,
		OriginalFilename:  header.Filename,
		SubmitterName:     claims.DisplayName,
		SubmitterIdentity: claims.Identity,
	})
	if err != nil {
		h.writeEnqueueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Файл добавлен в очередь",
		"job":     toJobResponse(job),
	})
}

// List обрабатывает GET /api/v1/queue.
// Возвращает очередь в порядке обслуживания (старые первыми).
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queueSvc.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения очереди", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Thumbnail обрабатывает GET /api/v1/queue/{id}/thumbnail.
// Возвращает base64-превью модели из файла задания.
func (h *QueueHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	thumb, err := h.queueSvc.Thumbnail(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Задание не найдено")
		case errors.Is(err, service.ErrNoThumbnail):
			apierrors.NotFound(w, "Превью не найдено в файле задания")
		default:
			h.logger.Error("Ошибка извлечения превью",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"thumbnail": thumb})
}

// Delete обрабатывает DELETE /api/v1/queue/{id}.
// Разрешено владельцу задания или администратору.
func (h *QueueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	id := chi.URLParam(r, "id")

	err := h.queueSvc.Delete(r.Context(), id, claims.Identity, claims.IsAdmin)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Задание не найдено")
		case errors.Is(err, service.ErrForbidden):
			apierrors.Forbidden(w, "Удаление чужого задания запрещено")
		default:
			h.logger.Error("Ошибка удаления задания",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Задание удалено"})
}

// ToggleOverride обрабатывает POST /api/v1/queue/{id}/override.
// Только владелец задания.
func (h *QueueHandler) ToggleOverride(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	id := chi.URLParam(r, "id")

	override, err := h.queueSvc.ToggleOverride(r.Context(), id, claims.Identity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Задание не найдено")
		case errors.Is(err, service.ErrForbidden):
			apierrors.Forbidden(w, "Переключение override чужого задания запрещено")
		default:
			h.logger.Error("Ошибка переключения override",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"override": override,
	})
}

// writeEnqueueError транслирует ошибки Enqueue в HTTP-ответы.
func (h *QueueHandler) writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrBadExtension):
		apierrors.ValidationError(w, "Недопустимое расширение файла: принимаются только файлы заданий печати")
	case errors.Is(err, service.ErrStaleConfig):
		apierrors.StaleConfig(w, "Версия конфигурации в файле устарела или отсутствует — "+
			"перегенерируйте профиль принтера и переслайсите модель")
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, "Файл превышает максимальный размер")
	default:
		h.logger.Error("Ошибка приёма задания", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
