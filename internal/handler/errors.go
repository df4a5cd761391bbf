package handler

import (
	"errors"
	"net/http"

	"collab-notes-server/internal/service"
	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/response"
)

// writeError maps service errors onto HTTP statuses. Anything unexpected
// is logged and reported as a generic failure.
func writeError(w http.ResponseWriter, err error, fallback string) {
	var (
		verr *service.ValidationError
		nerr *service.NotFoundError
		aerr *service.AuthenticationError
		cerr *service.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		response.BadRequest(w, verr.Message)
	case errors.As(err, &nerr):
		response.NotFound(w, nerr.Error())
	case errors.As(err, &aerr):
		response.Unauthorized(w, aerr.Error())
	case errors.As(err, &cerr):
		response.Conflict(w, cerr.Error())
	default:
		logger.Errorf("%s: %v", fallback, err)
		response.InternalError(w, fallback)
	}
}
