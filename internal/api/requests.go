package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 16

var (
	validate = validator.New()

	errEmptyBody = errors.New("request body is required")
	errBadBody   = errors.New("malformed request body")
)

// SensorRequest updates a sensor value. Out of range values are clamped.
type SensorRequest struct {
	Value *float64 `json:"value" validate:"required"`
}

// BatteryRequest updates a switch battery level. Out of range values are
// clamped.
type BatteryRequest struct {
	Battery *float64 `json:"battery" validate:"required"`
}

// IntentRequest sets the routing intent or its mode.
type IntentRequest struct {
	Intent string `json:"intent" validate:"omitempty,oneof=balanced low_latency high_priority"`
	Auto   *bool  `json:"auto"`
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if err := validate.Struct(dst); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", strings.ToLower(fe.Field()), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", errBadBody, strings.Join(msgs, "; "))
}
