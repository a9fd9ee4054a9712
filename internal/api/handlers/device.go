// device.go — маршруты устройства, ключуемые routing-токеном (uuid).
//
// Слайсер на рабочей станции submitter-а считает, что общается
// с OctoPrint-совместимым принтером: handshake /api/version и загрузка
// /api/files/local эмулируются, uuid в пути авторизует запрос.
// /api/download отдаёт персонализированный архив конфигурации.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/VT-CRO/Workcell-Queue/internal/api/errors"
	"github.com/VT-CRO/Workcell-Queue/internal/config"
	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
	"github.com/VT-CRO/Workcell-Queue/internal/service"
)

// deviceUploadFieldName — имя multipart-поля в OctoPrint-протоколе.
const deviceUploadFieldName = "file"

// DeviceHandler реализует endpoints /{uuid}/api/*.
type DeviceHandler struct {
	cfg            *config.Config
	queueSvc       *service.QueueService
	profileSvc     *service.ProfileService
	personalizeSvc *service.PersonalizeService
	logger         *slog.Logger
}

// NewDeviceHandler создаёт обработчик маршрутов устройства.
func NewDeviceHandler(
	cfg *config.Config,
	queueSvc *service.QueueService,
	profileSvc *service.ProfileService,
	personalizeSvc *service.PersonalizeService,
	logger *slog.Logger,
) *DeviceHandler {
	return &DeviceHandler{
		cfg:            cfg,
		queueSvc:       queueSvc,
		profileSvc:     profileSvc,
		personalizeSvc: personalizeSvc,
		logger:         logger.With(slog.String("component", "device_handler")),
	}
}

// resolveProfile авторизует запрос по uuid из пути.
// Неизвестный токен — 403, ответ уже записан.
func (h *DeviceHandler) resolveProfile(w http.ResponseWriter, r *http.Request) *model.Profile {
	id := chi.URLParam(r, "uuid")

	profile, err := h.profileSvc.GetByUUID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			apierrors.Forbidden(w, "Неизвестный токен устройства")
			return nil
		}
		h.logger.Error("Ошибка авторизации по токену устройства",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return nil
	}
	return profile
}

// Version обрабатывает GET /{uuid}/api/version.
// OctoPrint handshake: слайсер проверяет «принтер» перед отправкой.
func (h *DeviceHandler) Version(w http.ResponseWriter, r *http.Request) {
	profile := h.resolveProfile(w, r)
	if profile == nil {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"server": "1.5.0",
		"api":    "0.1",
		"text":   "OctoPrint (Moonraker v0.3.1-12)",
		"uuid":   profile.UUID,
	})
}

// UploadLocal обрабатывает POST /{uuid}/api/files/local.
// Загрузка задания напрямую из слайсера, авторизация по uuid.
func (h *DeviceHandler) UploadLocal(w http.ResponseWriter, r *http.Request) {
	profile := h.resolveProfile(w, r)
	if profile == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize)

	file, header, err := r.FormFile(deviceUploadFieldName)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, "Файл превышает максимальный размер")
			return
		}
		apierrors.ValidationError(w, "Файл не передан: ожидается multipart-поле "+deviceUploadFieldName)
		return
	}
	defer file.Close()

	job, err := h.queueSvc.Enqueue(r.Context(), service.EnqueueParams{
		Reader:            file,
		OriginalFilename:  header.Filename,
		SubmitterName:     profile.DisplayName,
		SubmitterIdentity: profile.Identity,
	})
	if err != nil {
		h.writeEnqueueError(w, err)
		return
	}

	// Формат ответа OctoPrint: done обязателен для слайсера
	writeJSON(w, http.StatusCreated, map[string]any{
		"done": true,
		"files": map[string]any{
			"local": map[string]string{
				"name":   header.Filename,
				"origin": "local",
			},
		},
		"job": toJobResponse(job),
	})
}

// Download обрабатывает GET /{uuid}/api/download.
// Генерирует и отдаёт персонализированный архив конфигурации.
func (h *DeviceHandler) Download(w http.ResponseWriter, r *http.Request) {
	profile := h.resolveProfile(w, r)
	if profile == nil {
		return
	}

	result, err := h.personalizeSvc.Personalize(r.Context(), profile)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTemplateMissing):
			apierrors.TemplateMissing(w, "Эталонный архив конфигурации не настроен — обратитесь к оператору")
		case errors.Is(err, service.ErrValidation):
			apierrors.ValidationError(w, "Эталонный архив повреждён: "+err.Error())
		default:
			h.logger.Error("Ошибка персонализации",
				slog.String("uuid", profile.UUID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Не удалось сгенерировать архив конфигурации")
		}
		return
	}
	defer result.Archive.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))

	if _, err := io.Copy(w, result.Archive); err != nil {
		// Ответ уже начат: клиент оборвал соединение, логируем и всё
		h.logger.Warn("Отдача архива прервана",
			slog.String("uuid", profile.UUID),
			slog.String("error", err.Error()),
		)
	}
}

// writeEnqueueError транслирует ошибки Enqueue в HTTP-ответы.
func (h *DeviceHandler) writeEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrBadExtension):
		apierrors.ValidationError(w, "Недопустимое расширение файла: принимаются только файлы заданий печати")
	case errors.Is(err, service.ErrStaleConfig):
		apierrors.StaleConfig(w, "Версия конфигурации в файле устарела или отсутствует — "+
			"скачайте профиль принтера заново и переслайсите модель")
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, "Файл превышает максимальный размер")
	default:
		h.logger.Error("Ошибка приёма задания с устройства", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
