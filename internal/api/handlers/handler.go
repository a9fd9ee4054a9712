// Пакет handlers — HTTP-обработчики Print Queue.
// handler.go — общие helpers и DTO ответов.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/VT-CRO/Workcell-Queue/internal/domain/model"
)

// writeJSON записывает JSON-ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// jobResponse — запись очереди в API-ответах.
// submitter_identity наружу не отдаётся: для отображения
// достаточно имени.
type jobResponse struct {
	ID            string    `json:"id"`
	OriginalName  string    `json:"original_name"`
	SubmitterName string    `json:"submitter_name"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Override      bool      `json:"override"`
}

// toJobResponse конвертирует доменную модель в DTO ответа.
func toJobResponse(job *model.JobRecord) jobResponse {
	return jobResponse{
		ID:            job.ID,
		OriginalName:  job.OriginalName,
		SubmitterName: job.SubmitterName,
		EnqueuedAt:    job.EnqueuedAt,
		Override:      job.Override,
	}
}
