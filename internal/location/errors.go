package location

import "errors"

// ErrorKind 定位失败类型
type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota + 1
	KindTimeout
	KindUnavailable
	KindFailed
)

// Error 定位/地理编码错误，Error() 返回面向用户的提示文案
type Error struct {
	Kind  ErrorKind
	Cause error
}

var (
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrUnavailable      = &Error{Kind: KindUnavailable}

	// ErrAlreadyResolved 同一次定位请求只能完成一次
	ErrAlreadyResolved = errors.New("location request already resolved")
)

// Failed 包装底层错误
func Failed(cause error) *Error {
	return &Error{Kind: KindFailed, Cause: cause}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "位置权限被拒绝，请在设置中允许访问位置信息"
	case KindTimeout:
		return "获取位置超时，请检查网络连接或稍后重试"
	case KindUnavailable:
		return "位置服务不可用"
	default:
		if e.Cause == nil {
			return "获取位置失败"
		}
		return "获取位置失败：" + e.Cause.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按类型比较，errors.Is(err, ErrTimeout) 对任意超时错误成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Cause == nil || t.Cause == e.Cause)
}
