package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/services"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	RegisterValidators()
}

// RegisterValidators adds the custom binding rules to gin's validator and makes
// error messages use JSON field names. Safe to call more than once.
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	_ = v.RegisterValidation("isodate", isoDate)
	_ = v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return models.IsNotificationType(fl.Field().String())
	})
}

// isoDate accepts YYYY-MM-DD, RFC 3339, or an empty string (clear).
func isoDate(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return true
	}
	_, err := services.ParseDueDate(s, time.UTC)
	return err == nil
}

// bindingMessage turns a binding error into a Korean message naming the field.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s: %s", fe.Field(), ruleMessage(fe))
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("%s: 형식이 올바르지 않습니다", typeErr.Field)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.EOF) {
		return "요청 본문이 올바른 JSON이 아닙니다"
	}
	return "잘못된 요청입니다"
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "필수 항목입니다"
	case "email":
		return "올바른 이메일 주소가 아닙니다"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s자 이상이어야 합니다", fe.Param())
		}
		return fmt.Sprintf("%s 이상이어야 합니다", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s자 이하여야 합니다", fe.Param())
		}
		return fmt.Sprintf("%s 이하여야 합니다", fe.Param())
	case "oneof":
		return fmt.Sprintf("다음 중 하나여야 합니다: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "isodate":
		return "날짜 형식이 올바르지 않습니다 (YYYY-MM-DD 또는 RFC 3339)"
	case "datetime":
		return fmt.Sprintf("%s 형식이어야 합니다", fe.Param())
	case "notification_type":
		return "지원하지 않는 알림 유형입니다"
	case "hexcolor":
		return "#RRGGBB 형식의 색상이어야 합니다"
	case "numeric":
		return "숫자만 입력할 수 있습니다"
	case "url":
		return "올바른 URL이 아닙니다"
	default:
		return "값이 올바르지 않습니다"
	}
}
