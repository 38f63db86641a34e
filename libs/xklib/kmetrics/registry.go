package kmetrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"go.opencensus.io/metric/metricdata"
)

// KmetricsRegistry implements the opencensus metricproducer.Producer interface.
type KmetricsRegistry struct {
	mu          sync.Mutex // only taken when registering
	collection  atomic.Pointer[kmetricsCollection]
	globalTags  map[string]string
	allTagNames map[string]string // tagName -> metric name, to detect conflicts with global tags
}

func NewKmetricsRegistry() *KmetricsRegistry {
	registry := &KmetricsRegistry{
		globalTags:  make(map[string]string),
		allTagNames: make(map[string]string),
	}
	registry.collection.Store(newKmetricsCollection())
	return registry
}

func (registry *KmetricsRegistry) RegisterKmetric(km *Kmetric) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.checkForTagNameConflicts(km.tagNames)
	for _, tagName := range km.tagNames {
		registry.allTagNames[tagName] = km.metricName
	}
	newCollection := registry.collection.Load().clone()
	newCollection.dict[km.metricName] = km
	registry.collection.Store(newCollection)
}

func (registry *KmetricsRegistry) RegisterGaugeGroup(gg *GaugeGroup) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.checkForTagNameConflicts(gg.tagNames)
	for _, tagName := range gg.tagNames {
		registry.allTagNames[tagName] = gg.metricName
	}
	newCollection := registry.collection.Load().clone()
	newCollection.gaugeGroups[gg.metricName] = gg
	registry.collection.Store(newCollection)
}

// Read implements metricproducer.Producer.
func (registry *KmetricsRegistry) Read() []*metricdata.Metric {
	collection := registry.collection.Load()
	list := []*metricdata.Metric{}
	for _, v := range collection.dict {
		list = append(list, registry.attachGlobalTags(v.ReadCount()))
		if !v.countOnly {
			list = append(list, registry.attachGlobalTags(v.ReadSum()))
		}
	}
	for _, v := range collection.gaugeGroups {
		list = append(list, registry.attachGlobalTags(v.Read()))
	}
	return list
}

func (registry *KmetricsRegistry) attachGlobalTags(metric *metricdata.Metric) *metricdata.Metric {
	for key, value := range registry.globalTags {
		metric.Descriptor.LabelKeys = append(metric.Descriptor.LabelKeys, metricdata.LabelKey{Key: key})
		for _, ts := range metric.TimeSeries {
			ts.LabelValues = append(ts.LabelValues, metricdata.NewLabelValue(value))
		}
	}
	return metric
}

// AddGlobalTag adds a tag to every exported metric. Call this at startup only.
func (registry *KmetricsRegistry) AddGlobalTag(key, value string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if metricName, exists := registry.allTagNames[key]; exists {
		klogging.Fatal(context.Background()).With("tagName", key).With("metricName", metricName).Log("TagNameConflict", "global tag name conflicts with an existing metric tag")
	}
	registry.globalTags[key] = value
}

func (registry *KmetricsRegistry) checkForTagNameConflicts(tagNames []string) {
	for _, tagName := range tagNames {
		if _, exists := registry.globalTags[tagName]; exists {
			panic(kerror.Create("TagNameConflict", "tag name conflicts with a global tag").With("tagName", tagName))
		}
	}
}

// kmetricsCollection is immutable once published.
type kmetricsCollection struct {
	dict        map[string]*Kmetric
	gaugeGroups map[string]*GaugeGroup
}

func newKmetricsCollection() *kmetricsCollection {
	return &kmetricsCollection{
		dict:        make(map[string]*Kmetric),
		gaugeGroups: make(map[string]*GaugeGroup),
	}
}

func (collection *kmetricsCollection) clone() *kmetricsCollection {
	newCollection := newKmetricsCollection()
	for k, v := range collection.dict {
		newCollection.dict[k] = v
	}
	for k, v := range collection.gaugeGroups {
		newCollection.gaugeGroups[k] = v
	}
	return newCollection
}

var kmetricsRegistry = NewKmetricsRegistry()

func GetKmetricsRegistry() *KmetricsRegistry {
	return kmetricsRegistry
}
