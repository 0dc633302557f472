package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"studylock/internal/constants"
)

var requestValidator = validator.New()

var errBodyTooLarge = errors.New("request body too large")

func decodeAndValidate(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("invalid JSON body")
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body")
	}

	if err := requestValidator.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			field := lowerFirst(first.Field())
			switch first.Tag() {
			case "required":
				return fmt.Errorf("%s is required", field)
			case "email":
				return fmt.Errorf("invalid email format")
			case "min":
				return fmt.Errorf("%s must be at least %s", field, first.Param())
			case "max":
				return fmt.Errorf("%s must be at most %s", field, first.Param())
			case "oneof":
				return fmt.Errorf("%s must be one of: %s", field, strings.ReplaceAll(first.Param(), " ", ", "))
			case "url":
				return fmt.Errorf("%s must be a valid URL", field)
			default:
				return fmt.Errorf("invalid %s", field)
			}
		}

		return fmt.Errorf("invalid request payload")
	}

	return nil
}

// decodeOptional accepts an empty body for endpoints whose payload is optional.
func decodeOptional(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return requestValidator.Struct(dst)
	}
	return decodeAndValidate(r.Body, dst)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, constants.ErrCodePayloadTooLarge, "Request body too large")
		return
	}
	badRequest(w, err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
