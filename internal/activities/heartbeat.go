package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
)

// AutoHeartbeat 在 activity 运行期间每 1/4 心跳超时发送一次心跳，返回的函数停止发送。
// 未设置心跳超时或不在 activity 中时不做任何事
func AutoHeartbeat(ctx context.Context) (stop func()) {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	timeout := activity.GetInfo(ctx).HeartbeatTimeout
	if timeout <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(timeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
