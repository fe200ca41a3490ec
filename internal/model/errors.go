// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, task, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateUsername  = "DUPLICATE_USERNAME"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeMissingAuthHeader  = "MISSING_AUTH_HEADER"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeTokenExpired       = "TOKEN_EXPIRED"
	ErrCodeOwnerNotSynced     = "OWNER_NOT_SYNCED"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeInvalidPriority    = "INVALID_PRIORITY"
	ErrCodeInvalidTitle       = "INVALID_TITLE"
	ErrCodeEmptyPatch         = "EMPTY_PATCH"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
)

// NewDuplicateUsernameError はユーザー名重複エラーを生成する。
func NewDuplicateUsernameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  "このユーザー名は既に使用されています。",
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "登録済みのアカウントでログインしてください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// ユーザー名不明とパスワード不一致を区別せず、同一のエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewMissingAuthHeaderError はAuthorizationヘッダー不正エラーを生成する。
func NewMissingAuthHeaderError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAuthHeader,
		Message:  "Authorizationヘッダーが不正です。",
		Category: "auth",
		Action:   "Authorization: Bearer <token> 形式でトークンを指定してください。",
	}
}

// NewInvalidTokenError は無効トークンエラーを生成する。
// 署名検証失敗の詳細は漏らさない。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効です。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewTokenExpiredError はトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewOwnerNotSyncedError は所有者未同期エラーを生成する。
// 登録直後のユーザーがまだキャッシュに同期されていない状態は
// 想定内の一時的な状態であり、呼び出し側はリトライできる。
func NewOwnerNotSyncedError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeOwnerNotSynced,
		Message:  fmt.Sprintf("ユーザーがまだ同期されていません: %s", userID),
		Category: "sync",
		Action:   "数秒待ってから再度お試しください。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスクIDを確認してください。",
	}
}

// NewInvalidStatusError は無効なステータスエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なステータスです: %s", status),
		Category: "validation",
		Action:   "ステータスには pending、in_progress、completed、cancelled のいずれかを指定してください。",
	}
}

// NewInvalidPriorityError は無効な優先度エラーを生成する。
func NewInvalidPriorityError(priority string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("無効な優先度です: %s", priority),
		Category: "validation",
		Action:   "優先度には low、medium、high、urgent のいずれかを指定してください。",
	}
}

// NewInvalidTitleError は無効なタイトルエラーを生成する。
func NewInvalidTitleError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTitle,
		Message:  "タイトルは1文字以上255文字以下で指定してください。",
		Category: "validation",
		Action:   "タイトルを確認してください。",
	}
}

// NewEmptyPatchError は更新対象フィールドなしエラーを生成する。
func NewEmptyPatchError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyPatch,
		Message:  "更新するフィールドが指定されていません。",
		Category: "validation",
		Action:   "更新したいフィールドを1つ以上指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
