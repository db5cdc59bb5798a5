package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに返すコードとメッセージ、カテゴリ、フィールド単位の詳細を含む。
type APIError struct {
	Code     string           // エラーコード
	Message  string           // エラーメッセージ
	Category string           // カテゴリ: auth, validation, tab, system
	Details  []FieldViolation // バリデーションエラー時のみ
}

// FieldViolation はフィールド単位の制約違反を表す。
type FieldViolation struct {
	Field   string `json:"field"`
	Limit   int    `json:"limit"`
	Message string `json:"message"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeCSRFTokenInvalid = "CSRF_TOKEN_INVALID"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeTabLimitExceeded = "TAB_LIMIT_EXCEEDED"
	ErrCodeTabNotFound      = "TAB_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証が必要な操作を未認証で呼び出した場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
	}
}

// NewCSRFTokenInvalidError はCSRFトークンが欠落または不一致の場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "invalid csrf token",
		Category: "auth",
	}
}

// NewInvalidRequestError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Invalid input",
		Category: "validation",
	}
}

// NewPayloadTooLargeError はリクエストボディが上限サイズを超えた場合のエラーを生成する。
func NewPayloadTooLargeError() *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  "Request entity too large",
		Category: "validation",
	}
}

// NewValidationError はフィールドの制約違反を列挙したエラーを生成する。
func NewValidationError(violations []FieldViolation) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "Invalid input",
		Category: "validation",
		Details:  violations,
	}
}

// NewTabLimitError はタブ数が上限に達している場合のエラーを生成する。
// 入力値ではなく現在の件数に依存するため、バリデーションエラーとは別コードにする。
func NewTabLimitError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeTabLimitExceeded,
		Message:  fmt.Sprintf("Maximum tabs limit reached (%d tabs)", limit),
		Category: "tab",
	}
}

// NewTabNotFoundError はタブが見つからない場合のエラーを生成する。
// 他ユーザー所有のタブに対しても同じエラーを返し、存在の有無を漏らさない。
func NewTabNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTabNotFound,
		Message:  "Tab not found",
		Category: "tab",
	}
}

// NewUserNotFoundError はセッションのユーザーIDが解決できない場合のエラーを生成する。
// 未認証と同等に扱う。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests, please try again later.",
		Category: "system",
	}
}

// NewInternalError は内部エラーの汎用レスポンスを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
	}
}
