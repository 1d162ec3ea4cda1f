package pdf

import "fmt"

// エラーコード
const (
	CodeInputNotFound        = "INPUT_NOT_FOUND"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeUnsupportedPDF       = "UNSUPPORTED_PDF"
)

// Error は PDF 処理で発生したエラーを表します。
// Error() は "CODE: message" 形式で、ジョブの failedReason にそのまま記録されます。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InputNotFound は入力オブジェクトが存在しない場合のエラーを返します。
func InputNotFound(key string, err error) *Error {
	return newError(CodeInputNotFound, fmt.Sprintf("input %s not found", key), err)
}

func invalidParams(format string, args ...any) *Error {
	return newError(CodeInvalidParams, fmt.Sprintf(format, args...), nil)
}
