package controllers

import (
	"net/http"

	"github.com/angelmondragon/pos-register/api/responses"
	"github.com/angelmondragon/pos-register/api/validators"
	"github.com/angelmondragon/pos-register/internal/notices"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

type noticeFeed interface {
	Recent(limit int) []notices.Notice
}

// ListNotices returns the latest sync notices, newest first.
func ListNotices(feed noticeFeed, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.QueryInt(r, "limit", validators.NoticeLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, feed.Recent(limit))
	}
}
