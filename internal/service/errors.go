package service

import (
	"errors"
	"fmt"

	"groupchat/internal/auth"
)

// 业务层错误分类，handler 与 WebSocket 层根据分类映射到状态码或错误帧。
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// 具体错误均包装上面的分类，调用方用 errors.Is 判断。
var (
	ErrUsernameTaken      = fmt.Errorf("%w: username taken", ErrConflict)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", auth.ErrUnauthorized)
	ErrInvalidRefresh     = fmt.Errorf("%w: invalid refresh token", auth.ErrUnauthorized)
	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrGroupNotFound      = fmt.Errorf("%w: group not found", ErrNotFound)
	ErrGroupNameTaken     = fmt.Errorf("%w: group name taken", ErrConflict)
	ErrChannelNotFound    = fmt.Errorf("%w: channel not found", ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("%w: message not found", ErrNotFound)
	ErrBanNotFound        = fmt.Errorf("%w: ban not found", ErrNotFound)
	ErrNotMember          = fmt.Errorf("%w: not a member", ErrForbidden)
	ErrBanned             = fmt.Errorf("%w: banned", ErrForbidden)
	ErrInsufficientRole   = fmt.Errorf("%w: insufficient role", ErrForbidden)
	ErrNotAuthor          = fmt.Errorf("%w: not the author", ErrForbidden)
	ErrNotSiteAdmin       = fmt.Errorf("%w: site admin only", ErrForbidden)
	ErrSuperImmutable     = fmt.Errorf("%w: super membership cannot be changed", ErrForbidden)
	ErrAlreadyMember      = fmt.Errorf("%w: already a member", ErrConflict)
	ErrBanConflict        = fmt.Errorf("%w: active ban already exists", ErrConflict)
	ErrOwnsGroups         = fmt.Errorf("%w: user is super of a group", ErrConflict)
)

// Kind 是错误分类的稳定字符串表示。
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// KindOf 返回错误分类；未分类错误视为 internal。
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	}
	return KindInternal
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func internal(err error) error {
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
