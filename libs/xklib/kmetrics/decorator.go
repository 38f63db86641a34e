package kmetrics

import (
	"context"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
)

var (
	OpsLatencyMetric = CreateKmetric(context.Background(), "op_latency_ms", "latency of instrumented operations", []string{"method", "status", "error", "notes"})
)

// FuncTypeVoid reports failure by panic(kerror).
type FuncTypeVoid func()

// FuncTypeError reports failure by returning an error.
type FuncTypeError func(ctx context.Context) error

func invokeFuncVoid(ctx context.Context, ef FuncTypeVoid) (ke *kerror.Kerror) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case *kerror.Kerror:
				ke = v
			case error:
				ke = kerror.Wrap(v, "InternalServerError", v.Error(), false)
			default:
				klogging.Fatal(ctx).WithPanic(v).Log("InvalidPanic", "invalid panic with non-error value")
			}
		}
	}()
	ef()
	return
}

func record(ctx context.Context, method string, startTime time.Time, errType string, notes string) {
	status := "OK"
	if errType != "" {
		status = "ERROR"
	}
	elapsedMs := kcommon.RoundDurationToMs(ctx, time.Since(startTime))
	OpsLatencyMetric.GetTimeSequence(ctx, method, status, errType, notes).Add(elapsedMs)
}

// InstrumentSummaryRunVoid records latency and outcome of ef, then re-panics if ef panicked.
func InstrumentSummaryRunVoid(ctx context.Context, method string, ef FuncTypeVoid, customNotes string) {
	startTime := time.Now()
	ke := invokeFuncVoid(ctx, ef)
	errType := ""
	if ke != nil {
		errType = ke.Type
	}
	record(ctx, method, startTime, errType, customNotes)
	if ke != nil {
		panic(ke)
	}
}

// InstrumentSummaryRunError records latency and outcome of ef and returns its error.
func InstrumentSummaryRunError(ctx context.Context, method string, ef FuncTypeError, customNotes string) error {
	startTime := time.Now()
	err := ef(ctx)
	errType := ""
	if err != nil {
		errType = "error"
		if ke, ok := err.(*kerror.Kerror); ok {
			errType = ke.Type
		}
	}
	record(ctx, method, startTime, errType, customNotes)
	return err
}
