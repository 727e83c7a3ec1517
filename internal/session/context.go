package session

import (
	"context"

	"github.com/hitoshi/campus/internal/model"
)

type contextKey struct{}

// NewContext はSessionを格納したコンテキストを返す。
func NewContext(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext はコンテキストからSessionを取り出す。
// 格納されていない場合は未認証のSessionとfalseを返す。
func FromContext(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(contextKey{}).(model.Session)
	return s, ok
}
