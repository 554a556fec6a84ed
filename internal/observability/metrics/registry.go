package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var defaultBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// collector 是可以输出为 Prometheus 文本的一组指标。
type collector interface {
	writeTo(w io.Writer)
}

var (
	registryMu sync.Mutex
	registry   []collector
)

func register(c collector) {
	registryMu.Lock()
	registry = append(registry, c)
	registryMu.Unlock()
}

func writeAll(w io.Writer) {
	registryMu.Lock()
	cs := append([]collector(nil), registry...)
	registryMu.Unlock()
	for _, c := range cs {
		c.writeTo(w)
	}
}

type series[T any] struct {
	values []string
	data   T
}

// vec 按标签值组合保存一类指标。
type vec[T any] struct {
	name   string
	help   string
	kind   string
	labels []string
	init   func() T

	mu     sync.Mutex
	series map[string]*series[T]
}

func newVec[T any](name, help, kind string, init func() T, labels ...string) *vec[T] {
	return &vec[T]{name: name, help: help, kind: kind, labels: labels, init: init, series: make(map[string]*series[T])}
}

// with 在持锁状态下修改对应标签的数据。
func (v *vec[T]) with(fn func(T) T, values ...string) {
	key := strings.Join(values, "\xff")
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.series[key]
	if !ok {
		s = &series[T]{values: append([]string(nil), values...), data: v.init()}
		v.series[key] = s
	}
	s.data = fn(s.data)
}

// sorted 返回按标签值排序的快照，调用方需持锁。
func (v *vec[T]) sorted() []*series[T] {
	out := make([]*series[T], 0, len(v.series))
	for _, s := range v.series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i].values, "\xff") < strings.Join(out[j].values, "\xff")
	})
	return out
}

func (v *vec[T]) header(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", v.name, v.help, v.name, v.kind)
}

func (v *vec[T]) labelPairs(values []string, extra ...string) string {
	pairs := make([]string, 0, len(values)+1)
	for i, name := range v.labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", name, values[i]))
	}
	pairs = append(pairs, extra...)
	return "{" + strings.Join(pairs, ",") + "}"
}

type counterVec struct{ *vec[uint64] }

func newCounterVec(name, help string, labels ...string) counterVec {
	c := counterVec{newVec(name, help, "counter", func() uint64 { return 0 }, labels...)}
	register(c)
	return c
}

func (c counterVec) inc(values ...string) {
	c.with(func(n uint64) uint64 { return n + 1 }, values...)
}

func (c counterVec) writeTo(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.header(w)
	for _, s := range c.sorted() {
		fmt.Fprintf(w, "%s%s %d\n", c.name, c.labelPairs(s.values), s.data)
	}
}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

type histogramVec struct{ *vec[*histogram] }

func newHistogramVec(name, help string, labels ...string) histogramVec {
	h := histogramVec{newVec(name, help, "histogram", func() *histogram {
		return &histogram{counts: make([]uint64, len(defaultBuckets))}
	}, labels...)}
	register(h)
	return h
}

func (h histogramVec) observe(seconds float64, values ...string) {
	h.with(func(hist *histogram) *histogram {
		hist.count++
		hist.sum += seconds
		for i, bound := range defaultBuckets {
			if seconds <= bound {
				hist.counts[i]++
			}
		}
		return hist
	}, values...)
}

func (h histogramVec) writeTo(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header(w)
	for _, s := range h.sorted() {
		for i, bound := range defaultBuckets {
			fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, h.labelPairs(s.values, fmt.Sprintf("le=%q", formatFloat(bound))), s.data.counts[i])
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, h.labelPairs(s.values, `le="+Inf"`), s.data.count)
		fmt.Fprintf(w, "%s_sum%s %s\n", h.name, h.labelPairs(s.values), formatFloat(s.data.sum))
		fmt.Fprintf(w, "%s_count%s %d\n", h.name, h.labelPairs(s.values), s.data.count)
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
