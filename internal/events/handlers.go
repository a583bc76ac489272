package events

import (
	"net/http"
	"strconv"

	"github.com/quotelab/pricing-api/internal/common"
)

// RecentHandler serves the newest recorded events so operators can inspect
// what the pipeline emitted without tailing logs.
func RecentHandler(store *RingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		common.JSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"topics": DefaultTopics(),
				"events": store.Recent(limit),
			},
		})
	}
}
