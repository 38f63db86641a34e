package kcommon

import (
	"context"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
)

// TryCatchRun runs fn and converts a panic(error) into a returned Kerror.
// A non-error panic is a programming bug: it is logged as fatal.
func TryCatchRun(ctx context.Context, fn func()) (ret *kerror.Kerror) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ke, ok := r.(*kerror.Kerror); ok {
			ret = ke
		} else if err, ok := r.(error); ok {
			ret = kerror.Wrap(err, "UnknownError", "", true)
		} else {
			klogging.Fatal(ctx).WithPanic(r).Log("NonErrorPanic", "")
		}
	}()
	fn()
	return
}
