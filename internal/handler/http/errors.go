package http

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/pkg/response"
)

func handleError(w http.ResponseWriter, log zerolog.Logger, err error) {
	if appErr, ok := errors.As(err); ok {
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("code", string(appErr.Code)).Msg("Request failed")
		}
		response.Error(w, status, toBody(appErr))
		return
	}
	log.Error().Err(err).Msg("Unhandled error")
	response.Error(w, http.StatusInternalServerError, toBody(errors.Internal("internal server error")))
}

func toBody(e *errors.AppError) *response.ErrorBody {
	return &response.ErrorBody{
		Code:    string(e.Code),
		Message: e.Message,
		Details: e.Details,
	}
}
