package middleware

import (
	"mime"
	"net/http"

	"github.com/hitoshi/babylog/internal/model"
)

// NewJSONContentTypeMiddleware はボディを持つ状態変更リクエストに
// Content-Type: application/json を要求するミドルウェアを返す。
// JSON以外のボディはクロスサイトのフォーム送信とみなして415で拒否する。
func NewJSONContentTypeMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != "application/json" {
					WriteErrorResponse(w, http.StatusUnsupportedMediaType, &model.APIError{
						Code:     "UNSUPPORTED_MEDIA_TYPE",
						Message:  "リクエストはJSON形式で送信してください。",
						Category: "validation",
						Action:   "Content-Type: application/json を指定してください。",
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
