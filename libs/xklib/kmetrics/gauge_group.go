package kmetrics

import (
	"sync"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"go.opencensus.io/metric/metricdata"
	"go.opencensus.io/resource"
)

// GaugeGroup is a set of gauges sharing one name with different tag values, where the set of
// tag values comes and goes over time (one sequence per function broker, for example).
// Values are always replaced as a whole: UpdateValue swaps the complete set.
type GaugeGroup struct {
	mu          sync.Mutex
	metricName  string
	description string
	tagNames    []string
	startTime   time.Time
	dict        map[string]*GaugeTimeSequence // key is `-` joined tag values
}

func NewGaugeGroup(name, desc string, tagNames ...string) *GaugeGroup {
	gg := &GaugeGroup{
		metricName:  name,
		description: desc,
		tagNames:    tagNames,
		startTime:   time.Now(),
		dict:        make(map[string]*GaugeTimeSequence),
	}
	GetKmetricsRegistry().RegisterGaugeGroup(gg)
	return gg
}

func (gg *GaugeGroup) UpdateValue(dict map[string]*GaugeTimeSequence) {
	gg.mu.Lock()
	defer gg.mu.Unlock()
	gg.dict = dict
}

// Get returns the current value for the given tags.
func (gg *GaugeGroup) Get(tags ...string) (int64, bool) {
	gg.mu.Lock()
	defer gg.mu.Unlock()
	seq, ok := gg.dict[makeSequenceKey(tags...)]
	if !ok {
		return 0, false
	}
	return seq.Value, true
}

func (gg *GaugeGroup) Len() int {
	gg.mu.Lock()
	defer gg.mu.Unlock()
	return len(gg.dict)
}

func (gg *GaugeGroup) Read() *metricdata.Metric {
	keys := make([]metricdata.LabelKey, len(gg.tagNames))
	for i, tagName := range gg.tagNames {
		keys[i] = metricdata.LabelKey{Key: tagName}
	}

	gg.mu.Lock()
	dict := gg.dict
	gg.mu.Unlock()

	now := time.Now()
	timeSeries := []*metricdata.TimeSeries{}
	for _, ts := range dict {
		timeSeries = append(timeSeries, &metricdata.TimeSeries{
			LabelValues: ts.labelValues,
			Points:      []metricdata.Point{metricdata.NewInt64Point(now, ts.Value)},
			StartTime:   gg.startTime,
		})
	}
	return &metricdata.Metric{
		Descriptor: metricdata.Descriptor{
			Name:        gg.metricName,
			Description: gg.description,
			Unit:        metricdata.UnitDimensionless,
			Type:        metricdata.TypeGaugeInt64,
			LabelKeys:   keys,
		},
		Resource:   &resource.Resource{Type: "brokermgr", Labels: map[string]string{}},
		TimeSeries: timeSeries,
	}
}

// GaugeTimeSequence is one tag value combination of a GaugeGroup.
type GaugeTimeSequence struct {
	Key         string
	labelValues []metricdata.LabelValue
	Value       int64
}

func NewGaugeTimeSequence(parent *GaugeGroup, value int64, tags ...string) *GaugeTimeSequence {
	if len(tags) != len(parent.tagNames) {
		panic(kerror.Create("TagsCountDoesNotMatch", "").With("metric", parent.metricName).With("expectedLen", len(parent.tagNames)).With("gotLen", len(tags)))
	}
	values := make([]metricdata.LabelValue, len(tags))
	for i, item := range tags {
		values[i] = metricdata.NewLabelValue(item)
	}
	return &GaugeTimeSequence{
		Key:         makeSequenceKey(tags...),
		labelValues: values,
		Value:       value,
	}
}
