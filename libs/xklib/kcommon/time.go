package kcommon

import (
	"context"
	"sync/atomic"
	"time"
)

var (
	currentTimeProvider atomic.Value
)

func init() {
	currentTimeProvider.Store(&timeProviderHolder{NewSystemTimeProvider()})
}

type timeProviderHolder struct {
	tp TimeProvider
}

// TimeProvider abstracts the clock so that tests can drive it.
type TimeProvider interface {
	GetWallTimeMs() int64
	GetMonoTimeMs() int64
	ScheduleRun(delayMs int, fn func())
	SleepMs(ctx context.Context, ms int)
}

func getTimeProvider() TimeProvider {
	return currentTimeProvider.Load().(*timeProviderHolder).tp
}

// RunWithTimeProvider swaps the global provider for the duration of fn.
func RunWithTimeProvider(tp TimeProvider, fn func()) {
	old := getTimeProvider()
	SetTimeProvider(tp)
	defer SetTimeProvider(old)
	fn()
}

func SetTimeProvider(provider TimeProvider) {
	currentTimeProvider.Store(&timeProviderHolder{provider})
}

func GetWallTimeMs() int64 {
	return getTimeProvider().GetWallTimeMs()
}

func GetMonoTimeMs() int64 {
	return getTimeProvider().GetMonoTimeMs()
}

func ScheduleRun(delayMs int, fn func()) {
	getTimeProvider().ScheduleRun(delayMs, fn)
}

func SleepMs(ctx context.Context, ms int) {
	getTimeProvider().SleepMs(ctx, ms)
}

// SystemTimeProvider implements TimeProvider with the real clock.
type SystemTimeProvider struct {
	startTime time.Time
}

func NewSystemTimeProvider() *SystemTimeProvider {
	return &SystemTimeProvider{
		startTime: time.Now(),
	}
}

func (provider *SystemTimeProvider) GetWallTimeMs() int64 {
	return time.Now().UnixMilli()
}

func (provider *SystemTimeProvider) GetMonoTimeMs() int64 {
	return time.Since(provider.startTime).Milliseconds()
}

func (provider *SystemTimeProvider) ScheduleRun(delayMs int, fn func()) {
	time.AfterFunc(time.Duration(delayMs)*time.Millisecond, fn)
}

func (provider *SystemTimeProvider) SleepMs(ctx context.Context, ms int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ms) * time.Millisecond):
	}
}
