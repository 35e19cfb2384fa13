package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phbpx/leadtrack"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const maxBodyBytes = 1 << 20

// envelope is the body of every JSON response.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func decode(r *http.Request, into interface{}) error {
	rawJson, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rawJson, into); err != nil {
		return leadtrack.Invalidf("request body is not valid JSON")
	}
	return nil
}

func respond(ctx context.Context, rw http.ResponseWriter, status int, data interface{}) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "handler.respond")
	span.SetAttributes(attribute.Int("http.status", status))
	defer span.End()

	if status == http.StatusNoContent || data == nil {
		rw.WriteHeader(status)
		return
	}

	rawJson, err := json.Marshal(data)
	if err != nil {
		panic("respond-json-marshal:" + err.Error())
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(rawJson)
}

func respondErr(ctx context.Context, rw http.ResponseWriter, status int, err error) {
	respond(ctx, rw, status, envelope{Success: false, Message: err.Error()})
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, leadtrack.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, leadtrack.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, leadtrack.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, leadtrack.ErrLeadNotFound),
		errors.Is(err, leadtrack.ErrUserNotFound),
		errors.Is(err, leadtrack.ErrInvalidReferral):
		return http.StatusNotFound
	case errors.Is(err, leadtrack.ErrDuplicatedLead):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var errInternal = errors.New("internal server error")

// fail writes err with its mapped status. Unexpected errors are logged and
// answered with a generic message.
func fail(ctx context.Context, rw http.ResponseWriter, log *otelzap.SugaredLogger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.ErrorwContext(ctx, op, "error", err.Error())
		respondErr(ctx, rw, status, errInternal)
		return
	}
	log.InfowContext(ctx, op, "status", status, "error", err.Error())
	respondErr(ctx, rw, status, err)
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates the shape of a request body.
func check(v *validator.Validate, req interface{}) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating request: %w", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return leadtrack.Invalidf("%s is required", fe.Field())
	case "max":
		return leadtrack.Invalidf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return leadtrack.Invalidf("%s must be a valid email address", fe.Field())
	case "datetime":
		return leadtrack.Invalidf("%s must be a date in YYYY-MM-DD form", fe.Field())
	default:
		return leadtrack.Invalidf("%s is invalid", fe.Field())
	}
}
