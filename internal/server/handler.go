// Package server provides the WebSocket command handling and request
// validation for the candle web interface and the room API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// validate is the shared validator instance for request validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// Validate checks v against its struct tags. It returns nil when v is valid.
func Validate(v any) *types.ValidationError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	verr := types.NewValidationError()
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			verr.Add(e.Field(), formatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}
	return verr
}

// DecodeAndValidate decodes JSON and validates the struct.
// Returns true if successful, false if an error response was already sent.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd.Type, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}

	if verr := Validate(data); verr != nil {
		SendValidationErrors(send, cmd.Type, verr)
		return false
	}

	return true
}

// HandleCommand decodes, validates, and processes a command with automatic
// response handling. process returns the optional result data.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	result, err := process(&data)
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	SendSuccess(send, cmd.Type, result)
}

// HandleActionAsync runs a command action asynchronously with panic recovery.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd.Type, fmt.Errorf("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, result)
	}()
}

// --- Response helpers ---

// SendSuccess sends a success response for a command.
func SendSuccess(send chan<- any, cmdType string, data any) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: true,
		Data:    data,
	})
}

// SendError sends an error response for a command.
func SendError(send chan<- any, cmdType string, err error) {
	verr := types.NewValidationError()
	verr.Add("", err.Error(), nil)
	SendValidationErrors(send, cmdType, verr)
}

// SendValidationErrors sends a failed command result carrying field errors.
func SendValidationErrors(send chan<- any, cmdType string, verr *types.ValidationError) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: false,
		Error:   verr,
	})
}

// SendData sends arbitrary data to the WebSocket client.
func SendData(send chan<- any, data any) {
	trySend(send, "data", data)
}

// trySend attempts to send a message, logging a warning if the channel is full.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full or closed", "type", cmdType)
	}
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "printascii", "excludesrune":
		return "contains characters that are not allowed"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
