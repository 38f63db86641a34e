package kcommon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
)

func TestFakeTimeProvider(t *testing.T) {
	ctx := context.Background()
	fakeTime := NewFakeTimeProvider(1000)

	RunWithTimeProvider(fakeTime, func() {
		res := []int{}
		ScheduleRun(100, func() { res = append(res, 100) })
		ScheduleRun(10, func() { res = append(res, 10) })
		ScheduleRun(10, func() { res = append(res, 11) })

		assert.Equal(t, int64(1000), GetWallTimeMs())
		fakeTime.VirtualTimeForward(ctx, 50)
		assert.Equal(t, []int{10, 11}, res)
		assert.Equal(t, int64(1050), GetWallTimeMs())

		fakeTime.VirtualTimeForward(ctx, 50)
		assert.Equal(t, []int{10, 11, 100}, res)
		assert.Equal(t, 0, fakeTime.PendingTaskCount())
	})
}

func TestFakeTimeProviderReschedule(t *testing.T) {
	ctx := context.Background()
	fakeTime := NewFakeTimeProvider(0)
	count := 0
	var tick func()
	tick = func() {
		count++
		fakeTime.ScheduleRun(100, tick)
	}
	fakeTime.ScheduleRun(100, tick)
	fakeTime.VirtualTimeForward(ctx, 1000)
	assert.Equal(t, 10, count)
	assert.Equal(t, int64(1000), fakeTime.GetMonoTimeMs())
}

func TestTryCatchRun(t *testing.T) {
	ctx := context.Background()
	ke := TryCatchRun(ctx, func() {
		panic(kerror.Create("EtcdGetError", "boom").WithErrorCode(kerror.EC_INTERNAL_ERROR))
	})
	assert.NotNil(t, ke)
	assert.Equal(t, "EtcdGetError", ke.Type)

	ke = TryCatchRun(ctx, func() {
		panic(errors.New("plain"))
	})
	assert.Equal(t, "UnknownError", ke.Type)

	ke = TryCatchRun(ctx, func() {})
	assert.Nil(t, ke)
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("BMG_TEST_PORT", "8081")
	t.Setenv("BMG_TEST_BAD", "x")
	assert.Equal(t, 8081, GetEnvInt("BMG_TEST_PORT", 1))
	assert.Equal(t, 1, GetEnvInt("BMG_TEST_BAD", 1))
	assert.Equal(t, 2, GetEnvInt("BMG_TEST_MISSING", 2))
	assert.Equal(t, "d", GetEnvString("BMG_TEST_MISSING", "d"))
}
