// consumer.go — endpoint выдачи заданий принтеру (consumer).
//
// Принтер периодически опрашивает /{token}/requestgcode; токен —
// статический секрет из файла состояния, JWT у принтера нет.
package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/VT-CRO/Workcell-Queue/internal/api/errors"
	"github.com/VT-CRO/Workcell-Queue/internal/service"
)

// ConsumerHandler реализует GET /{token}/requestgcode.
type ConsumerHandler struct {
	queueSvc *service.QueueService
	// token — статический consumer-токен (PQ_CONSUMER_TOKEN_FILE)
	token  string
	logger *slog.Logger
}

// NewConsumerHandler создаёт обработчик consumer endpoint.
func NewConsumerHandler(queueSvc *service.QueueService, token string, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		queueSvc: queueSvc,
		token:    token,
		logger:   logger.With(slog.String("component", "consumer_handler")),
	}
}

// RequestGcode обрабатывает GET /{token}/requestgcode.
// Атомарно забирает головное задание очереди и отдаёт содержимое файла.
// Повторных доставок нет: запись удаляется до начала отдачи,
// из конкурирующих запросов задание достаётся ровно одному.
func (h *ConsumerHandler) RequestGcode(w http.ResponseWriter, r *http.Request) {
	supplied := chi.URLParam(r, "uuid")
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(h.token)) != 1 {
		apierrors.Forbidden(w, "Неизвестный токен")
		return
	}

	job, file, err := h.queueSvc.DequeueFront(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQueueEmpty):
			apierrors.NotFound(w, "Очередь печати пуста")
		case errors.Is(err, service.ErrFileMissing):
			// Запись сохранена, нужен оператор: не прячем сбой за 404
			apierrors.InternalError(w, "Файл задания отсутствует на сервере")
		default:
			h.logger.Error("Ошибка выдачи задания", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", job.OriginalName))

	if _, err := io.Copy(w, file); err != nil {
		// Запись уже удалена — задание считается выданным;
		// обрыв соединения не возвращает его в очередь
		h.logger.Warn("Отдача задания прервана",
			slog.String("id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
