package api

import (
	"net/http"
	"strconv"

	"studylock/internal/lock"
	"studylock/internal/models"
)

// UserView is a user together with the derived lock status.
type UserView struct {
	*models.User
	Status lock.Status `json:"status"`
}

func newUserView(engine *lock.Engine, u *models.User) UserView {
	return UserView{User: u, Status: engine.StatusOf(u)}
}

func newUserViews(engine *lock.Engine, users []*models.User) []UserView {
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, newUserView(engine, u))
	}
	return views
}

// parseLimit reads the optional limit query parameter. Zero means the
// repository default.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	return limit, true
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
