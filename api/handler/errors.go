package handler

import (
	"errors"

	"github.com/fyerfyer/paragraph-migrate/api/middleware"
	"github.com/fyerfyer/paragraph-migrate/internal/document"
	"github.com/fyerfyer/paragraph-migrate/internal/fetch"
	"github.com/fyerfyer/paragraph-migrate/internal/models"
	"github.com/fyerfyer/paragraph-migrate/internal/services"
	"github.com/fyerfyer/paragraph-migrate/pkg/taskqueue"
	"github.com/gin-gonic/gin"
)

// toAppError 把服务层错误映射为带状态码的应用错误
func toAppError(err error) middleware.AppError {
	switch {
	case errors.Is(err, models.ErrMigrationNotFound),
		errors.Is(err, models.ErrParagraphNotFound),
		errors.Is(err, models.ErrMediaNotFound),
		errors.Is(err, taskqueue.ErrTaskNotFound):
		return middleware.NewNotFoundError(err.Error())
	case errors.Is(err, services.ErrEmptySourceID),
		errors.Is(err, document.ErrUnsupportedFormat),
		errors.Is(err, models.ErrInvalidMigrationStatus):
		return middleware.NewValidationError(err.Error())
	case errors.Is(err, fetch.ErrInvalidSource),
		errors.Is(err, fetch.ErrUnexpectedStatus),
		errors.Is(err, fetch.ErrTooLarge):
		return middleware.NewBusinessError("image could not be migrated", err.Error())
	case errors.Is(err, services.ErrMigrationInProgress),
		errors.Is(err, services.ErrAlreadyMigrated):
		return middleware.NewConflictError(err.Error())
	case errors.Is(err, services.ErrAsyncDisabled):
		return middleware.NewUnavailableError(err.Error())
	default:
		return middleware.NewInternalError("internal server error", err.Error())
	}
}

// fail 记录错误，交给错误中间件生成响应
func fail(c *gin.Context, err error) {
	middleware.HandleError(c, toAppError(err))
}
