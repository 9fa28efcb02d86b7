package model

import (
	"fmt"

	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators 向gin的校验器注册自定义规则
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return v.RegisterValidation("body_format", validateBodyFormat)
}

// validateBodyFormat 正文格式只能是 html 或 markdown，大小写不敏感
func validateBodyFormat(fl validator.FieldLevel) bool {
	_, err := document.ParseFormat(fl.Field().String())
	return err == nil
}
