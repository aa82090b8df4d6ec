package wallet

import (
	"context"
	"log/slog"

	"BlueCarbon-Chain/pkg/logger"
)

// Navigator 执行页面跳转，例如打开水龙头。跳转目标不会被解析。
type Navigator interface {
	Open(ctx context.Context, url string) error
}

// NavigatorFunc 将函数适配为 Navigator。
type NavigatorFunc func(ctx context.Context, url string) error

// Open 调用 f。
func (f NavigatorFunc) Open(ctx context.Context, url string) error {
	return f(ctx, url)
}

// LogNavigator 只把跳转写入日志，用于无界面的环境。
type LogNavigator struct {
	Logger *slog.Logger
}

// Open 记录跳转目标。
func (n LogNavigator) Open(_ context.Context, url string) error {
	l := n.Logger
	if l == nil {
		l = logger.Named("wallet")
	}
	l.Info("redirect", slog.String("url", url))
	return nil
}
