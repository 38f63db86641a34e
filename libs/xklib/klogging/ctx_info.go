package klogging

import (
	"context"
	"fmt"
	"strings"
)

type ctxKey int

var ctxInfoKey ctxKey

// Importance decides at which log level a ctx value is attached to log entries.
type Importance uint32

const (
	// HighImportance values are attached to every log event
	HighImportance Importance = 1
	// MidImportance values are attached to debug (and more verbose) events
	MidImportance Importance = 5
	// LowImportance values are attached to verbose events only
	LowImportance Importance = 6
)

type KVL struct {
	K string
	V string
	L Importance
}

// CtxInfo carries key/values that every log entry written with this ctx (or a child ctx) picks up.
// A CtxInfo is written right after creation and read-only afterwards.
type CtxInfo struct {
	Parent  *CtxInfo
	Details []*KVL
}

func GetCurrentCtxInfo(ctx context.Context) *CtxInfo {
	if ctx == nil {
		return nil
	}
	info, _ := ctx.Value(ctxInfoKey).(*CtxInfo)
	return info
}

// CreateCtxInfo creates a child info, using the info of ctx (if any) as parent.
func CreateCtxInfo(ctx context.Context) (context.Context, *CtxInfo) {
	info := &CtxInfo{
		Parent: GetCurrentCtxInfo(ctx),
	}
	return context.WithValue(ctx, ctxInfoKey, info), info
}

func (info *CtxInfo) With(k string, v string) *CtxInfo {
	return info.WithLevel(k, v, HighImportance)
}

func (info *CtxInfo) WithLevel(k string, v string, level Importance) *CtxInfo {
	for _, item := range info.Details {
		if item.K == k {
			item.V = v
			item.L = level
			return info
		}
	}
	info.Details = append(info.Details, &KVL{K: k, V: v, L: level})
	return info
}

func (info *CtxInfo) ToString(threshold Level) string {
	var b strings.Builder
	info.VisitForward(func(k string, v string) bool {
		fmt.Fprintf(&b, ", %s=%v", k, v)
		return true
	}, threshold)
	return b.String()
}

func (info *CtxInfo) String() string {
	return info.ToString(InfoLevel)
}

func importance2LoggingLevel(imp Importance) Level {
	switch imp {
	case HighImportance:
		return FatalLevel
	case MidImportance:
		return DebugLevel
	default:
		return VerboseLevel
	}
}

// VisitForward visits the outer most parent first, then its children.
// The visitor returns false to stop early; VisitForward returns false in that case.
func (info *CtxInfo) VisitForward(visitor func(k string, v string) bool, threshold Level) bool {
	if info == nil {
		return true
	}
	if !info.Parent.VisitForward(visitor, threshold) {
		return false
	}
	for _, item := range info.Details {
		if item.V == "" || !NeedLog(importance2LoggingLevel(item.L), threshold) {
			continue
		}
		if !visitor(item.K, item.V) {
			return false
		}
	}
	return true
}

// FindByKey returns the nearest value for k, or fallback.
func (info *CtxInfo) FindByKey(k string, fallback string) string {
	if info == nil {
		return fallback
	}
	for _, item := range info.Details {
		if item.K == k && item.V != "" {
			return item.V
		}
	}
	return info.Parent.FindByKey(k, fallback)
}
