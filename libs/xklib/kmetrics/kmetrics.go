package kmetrics

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"go.opencensus.io/metric/metricdata"
	"go.opencensus.io/resource"
)

// Kmetric is one summary style metric. It is exported as "<name>_count" and (unless CountOnly) "<name>_sum".
// Each distinct tag value combination is one TimeSequence.
type Kmetric struct {
	mu          sync.Mutex // only taken when adding a new TimeSequence
	metricName  string
	description string
	tagNames    []string
	collection  atomic.Pointer[timeSequenceCollection]
	startTime   time.Time
	countOnly   bool
}

func CreateKmetric(ctx context.Context, name string, description string, tags []string) *Kmetric {
	km := &Kmetric{
		metricName:  name,
		description: description,
		tagNames:    tags,
		startTime:   time.Now(),
	}
	km.collection.Store(newTimeSequenceCollection())
	GetKmetricsRegistry().RegisterKmetric(km)
	return km
}

func (km *Kmetric) CountOnly() *Kmetric {
	km.countOnly = true
	return km
}

func makeSequenceKey(tags ...string) string {
	return strings.Join(tags, "-")
}

// GetTimeSequence: tags must match the tag names given at creation (same len, same order).
func (km *Kmetric) GetTimeSequence(ctx context.Context, tags ...string) *TimeSequence {
	key := makeSequenceKey(tags...)
	if sequence, ok := km.collection.Load().dict[key]; ok {
		return sequence
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	collection := km.collection.Load()
	if sequence, ok := collection.dict[key]; ok {
		return sequence
	}
	// copy-on-write, readers never lock
	newCollection := newTimeSequenceCollection()
	for k, v := range collection.dict {
		newCollection.dict[k] = v
	}
	sequence := newTimeSequence(key, km, tags)
	newCollection.dict[key] = sequence
	km.collection.Store(newCollection)
	return sequence
}

func (km *Kmetric) labelKeys() []metricdata.LabelKey {
	keys := make([]metricdata.LabelKey, len(km.tagNames))
	for i, tagName := range km.tagNames {
		keys[i] = metricdata.LabelKey{Key: tagName}
	}
	return keys
}

func (km *Kmetric) read(suffix string, fn func(ts *TimeSequence) int64) *metricdata.Metric {
	timeSeries := []*metricdata.TimeSeries{}
	now := time.Now()
	for _, ts := range km.collection.Load().dict {
		timeSeries = append(timeSeries, &metricdata.TimeSeries{
			LabelValues: ts.labelValues,
			Points:      []metricdata.Point{metricdata.NewInt64Point(now, fn(ts))},
			StartTime:   km.startTime,
		})
	}
	return &metricdata.Metric{
		Descriptor: metricdata.Descriptor{
			Name:        km.metricName + suffix,
			Description: km.description,
			Unit:        metricdata.UnitDimensionless,
			Type:        metricdata.TypeCumulativeInt64,
			LabelKeys:   km.labelKeys(),
		},
		Resource:   &resource.Resource{Type: "brokermgr", Labels: map[string]string{}},
		TimeSeries: timeSeries,
	}
}

func (km *Kmetric) ReadSum() *metricdata.Metric {
	return km.read("_sum", func(ts *TimeSequence) int64 { return ts.sum.Load() })
}

func (km *Kmetric) ReadCount() *metricdata.Metric {
	return km.read("_count", func(ts *TimeSequence) int64 { return ts.count.Load() })
}

// timeSequenceCollection is immutable once published.
type timeSequenceCollection struct {
	dict map[string]*TimeSequence // key is `-` joined tag values
}

func newTimeSequenceCollection() *timeSequenceCollection {
	return &timeSequenceCollection{dict: map[string]*TimeSequence{}}
}

// TimeSequence is one tag value combination of a Kmetric.
type TimeSequence struct {
	key         string
	labelValues []metricdata.LabelValue
	count       atomic.Int64
	sum         atomic.Int64
}

func newTimeSequence(key string, parent *Kmetric, tagValues []string) *TimeSequence {
	if len(tagValues) != len(parent.tagNames) {
		panic(kerror.Create("InvalidTagValues", "number of tag values does not match tag name list").
			With("metric", parent.metricName).
			With("expectedLen", len(parent.tagNames)).
			With("gotLen", len(tagValues)))
	}
	values := make([]metricdata.LabelValue, len(tagValues))
	for i, item := range tagValues {
		values[i] = metricdata.NewLabelValue(item)
	}
	return &TimeSequence{
		key:         key,
		labelValues: values,
	}
}

func (ts *TimeSequence) Add(val int64) {
	ts.count.Add(1)
	ts.sum.Add(val)
}

func (ts *TimeSequence) Get() (count int64, sum int64) {
	return ts.count.Load(), ts.sum.Load()
}
