package telegram

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxUpdateBytes = 1 << 20

// WebhookHandler decodes an update and queues it. Telegram retries any
// non-2xx answer, so malformed bodies are acknowledged and dropped.
func (r *RealTelegramBotAdapter) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(req.Body, maxUpdateBytes))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var up tgbotapi.Update
		if err := json.Unmarshal(body, &up); err != nil {
			r.log.Warn().Err(err).Msg("undecodable webhook update")
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := r.Enqueue(req.Context(), up); err != nil {
			r.log.Warn().Err(err).Int("update_id", up.UpdateID).Msg("webhook update not queued")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
