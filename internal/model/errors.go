// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, food, feeding, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（永続化失敗時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeNoFoods                = "NO_FOODS"
	ErrCodeInvalidFeedingType     = "INVALID_FEEDING_TYPE"
	ErrCodeFeedingNotFound        = "FEEDING_NOT_FOUND"
	ErrCodeFoodNotFound           = "FOOD_NOT_FOUND"
	ErrCodeBabyNotFound           = "BABY_NOT_FOUND"
	ErrCodeFoodAlreadyExists      = "FOOD_ALREADY_EXISTS"
	ErrCodeFoodInUse              = "FOOD_IN_USE"
	ErrCodePersistenceFailed      = "PERSISTENCE_FAILED"
	ErrCodeOperationTimeout       = "OPERATION_TIMEOUT"
	ErrCodeInvalidFeedingInterval = "INVALID_FEEDING_INTERVAL"
)

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNoFoodsError は離乳食記録に食材が指定されていない場合のエラーを生成する。
func NewNoFoodsError() *APIError {
	return &APIError{
		Code:     ErrCodeNoFoods,
		Message:  "at least one food required",
		Category: "validation",
		Action:   "食材を1つ以上選択してください。",
	}
}

// NewInvalidFeedingTypeError は授乳種別が不正な場合のエラーを生成する。
func NewInvalidFeedingTypeError(feedingType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFeedingType,
		Message:  fmt.Sprintf("無効な授乳種別です: %s", feedingType),
		Category: "validation",
		Action:   "種別には nursing、bottle、formula、pumping のいずれかを指定してください。離乳食は専用の登録画面から記録してください。",
	}
}

// NewFeedingNotFoundError は授乳記録未検出エラーを生成する。
func NewFeedingNotFoundError(feedingID string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedingNotFound,
		Message:  fmt.Sprintf("指定された記録が見つかりません: %s", feedingID),
		Category: "feeding",
		Action:   "記録IDを確認してください。",
	}
}

// NewFoodNotFoundError は食材未検出エラーを生成する。
// 見つからなかった食材IDをすべてメッセージに含める。
func NewFoodNotFoundError(foodItemIDs ...string) *APIError {
	return &APIError{
		Code:     ErrCodeFoodNotFound,
		Message:  fmt.Sprintf("指定された食材が見つかりません: %s", strings.Join(foodItemIDs, ", ")),
		Category: "food",
		Action:   "食材一覧を再読み込みしてから選択し直してください。",
	}
}

// NewBabyNotFoundError は赤ちゃん未検出エラーを生成する。
func NewBabyNotFoundError(babyID string) *APIError {
	return &APIError{
		Code:     ErrCodeBabyNotFound,
		Message:  fmt.Sprintf("指定された赤ちゃんが見つかりません: %s", babyID),
		Category: "feeding",
		Action:   "赤ちゃんの登録内容を確認してください。",
	}
}

// NewFoodAlreadyExistsError は同名の食材が登録済みの場合のエラーを生成する。
func NewFoodAlreadyExistsError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeFoodAlreadyExists,
		Message:  fmt.Sprintf("同じ名前の食材が既に登録されています: %s", name),
		Category: "food",
		Action:   "食材一覧から既存の食材を選択してください。",
	}
}

// NewFoodInUseError は記録に使用中の食材を削除しようとした場合のエラーを生成する。
func NewFoodInUseError(name string, timesConsumed int) *APIError {
	return &APIError{
		Code:     ErrCodeFoodInUse,
		Message:  fmt.Sprintf("食材 %s は %d 件の記録で使用されています。", name, timesConsumed),
		Category: "food",
		Action:   "この食材を含む離乳食記録を先に編集または削除してください。",
	}
}

// NewPersistenceError は永続化層の失敗を表すエラーを生成する。
// 原因のエラーはUnwrapで取得できる。
func NewPersistenceError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  fmt.Sprintf("データの保存に失敗しました (%s)", op),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewOperationTimeoutError は処理が制限時間内に完了しなかった場合のエラーを生成する。
func NewOperationTimeoutError(op string) *APIError {
	return &APIError{
		Code:     ErrCodeOperationTimeout,
		Message:  fmt.Sprintf("処理がタイムアウトしました (%s)", op),
		Category: "system",
		Action:   "通信環境を確認し、記録が保存されているか確認してから再度お試しください。",
	}
}

// NewInvalidFeedingIntervalError は授乳間隔が範囲外の場合のエラーを生成する。
func NewInvalidFeedingIntervalError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFeedingInterval,
		Message:  fmt.Sprintf("無効な授乳間隔です: %d分", minutes),
		Category: "validation",
		Action:   "授乳間隔は30分から720分（12時間）の範囲で指定してください。",
	}
}

// HasCode はerrがAPIErrorであり、指定したコードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == code
}

// AsAPIError はerrのチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
