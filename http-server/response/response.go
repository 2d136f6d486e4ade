package response

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"cutting-erp/internal/storage"
)

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func OK() Response {
	return Response{Status: StatusOK}
}

func Error(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}

// StatusFor maps the storage error taxonomy onto HTTP.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrInsufficientStock), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrPartialFailure):
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}

// Fail logs err and renders it with its mapped status. Internal errors are not
// echoed to the client.
func Fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code := StatusFor(err)

	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Error("request failed", slog.String("error", msg))
		msg = "internal error"
	} else {
		log.Warn("request rejected", slog.Int("status", code), slog.String("error", msg))
	}

	render.Status(r, code)
	render.JSON(w, r, Error(msg))
}

// Logger scopes log to one handler call.
func Logger(log *slog.Logger, r *http.Request, op string) *slog.Logger {
	return log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Decode reads a JSON body into v and validates it. Both kinds of failure
// come back as storage.ErrValidation.
func Decode(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", storage.ErrValidation, err)
	}
	return Validate(v)
}

func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("%w: %s", storage.ErrValidation, strings.Join(msgs, ", "))
}

// IDParam reads a positive integer URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", storage.ErrValidation, name, raw)
	}
	return id, nil
}
