package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"robot-fleet-backend/internal/mw"
)

const (
	msgRobotNotFound    = "Robot not found"
	msgDuplicateRobot   = "Robot with this ID already exists"
	msgInternalError    = "Internal server error"
	msgNotFound         = "Not Found"
	msgMethodNotAllowed = "Method Not Allowed"
)

func init() {
	// Report validation failures with the JSON field names clients send.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// validationIssue is one entry of a 422 response's detail list.
type validationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func fieldIssue(field, msg, typ string) validationIssue {
	loc := []string{"body"}
	if field != "" {
		loc = append(loc, field)
	}
	return validationIssue{Loc: loc, Msg: msg, Type: typ}
}

// errNullBody reports a request body that is the JSON literal null.
var errNullBody = errors.New("request body is null")

// bindJSON decodes and validates the request body into obj. On failure it writes
// the 422 response and returns false.
func bindJSON(c *gin.Context, obj any) bool {
	body, err := c.GetRawData()
	if err == nil {
		if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
			err = errNullBody
		} else {
			err = binding.JSON.BindBody(body, obj)
		}
	}
	if err != nil {
		abortValidation(c, bindingIssues(err)...)
		return false
	}
	return true
}

func abortValidation(c *gin.Context, issues ...validationIssue) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": issues})
}

func bindingIssues(err error) []validationIssue {
	var (
		validationErrs validator.ValidationErrors
		typeErr        *json.UnmarshalTypeError
		syntaxErr      *json.SyntaxError
	)
	switch {
	case errors.As(err, &validationErrs):
		issues := make([]validationIssue, 0, len(validationErrs))
		for _, fe := range validationErrs {
			if fe.Tag() == "required" {
				issues = append(issues, fieldIssue(fe.Field(), "field required", "value_error.missing"))
				continue
			}
			issues = append(issues, fieldIssue(fe.Field(), "failed on the '"+fe.Tag()+"' rule", "value_error."+fe.Tag()))
		}
		return issues
	case errors.As(err, &typeErr):
		return []validationIssue{fieldIssue(typeErr.Field, "expected "+typeErr.Type.String()+", got "+typeErr.Value, "type_error")}
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return []validationIssue{fieldIssue("", "invalid JSON body", "value_error.jsondecode")}
	case errors.Is(err, io.EOF), errors.Is(err, errNullBody):
		return []validationIssue{fieldIssue("", "field required", "value_error.missing")}
	default:
		return []validationIssue{fieldIssue("", err.Error(), "value_error")}
	}
}

func abortNotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": msgRobotNotFound})
}

// abortInternal logs err and answers with a response that carries no internal detail.
func (h *Handler) abortInternal(c *gin.Context, err error) {
	c.Error(err)
	h.log.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("request_id", mw.GetRequestID(c)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": msgInternalError})
}
