package models

import "errors"

var (
	// ErrParagraphNotFound 段落不存在错误
	ErrParagraphNotFound = errors.New("paragraph not found")

	// ErrMediaNotFound 媒体不存在错误
	ErrMediaNotFound = errors.New("media not found")

	// ErrFileNotFound 文件不存在错误
	ErrFileNotFound = errors.New("file not found")

	// ErrMigrationNotFound 迁移记录不存在错误
	ErrMigrationNotFound = errors.New("migration record not found")

	// ErrInvalidMigrationStatus 无效的迁移状态错误
	ErrInvalidMigrationStatus = errors.New("invalid migration status")
)
