package types

import (
	"context"
)

type ctxKey int

const (
	ctxKeyOrigin ctxKey = iota
	ctxKeyConnection
)

func CtxWithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, ctxKeyOrigin, origin)
}

func CtxGetOrigin(ctx context.Context) (string, bool) {
	origin, ok := ctx.Value(ctxKeyOrigin).(string)
	return origin, ok
}

func CtxWithConnection(ctx context.Context, conn ConnectionID) context.Context {
	return context.WithValue(ctx, ctxKeyConnection, conn)
}

func CtxGetConnection(ctx context.Context) (ConnectionID, bool) {
	conn, ok := ctx.Value(ctxKeyConnection).(ConnectionID)
	return conn, ok
}
