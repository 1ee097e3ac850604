package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// 本文件提供 Prometheus 文本格式的最小渲染能力。指标量很小，
// 手写序列化即可，无需引入完整的 client 库。

// labels 将键值对格式化为已转义的标签串，如 handler="runs",method="GET"。
// 键按调用方给定顺序输出。
func labels(pairs ...string) string {
	if len(pairs) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(pairs[i])
		b.WriteString(`="`)
		b.WriteString(escape(pairs[i+1]))
		b.WriteByte('"')
	}
	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// counterVec 是一组带标签的计数器序列。并发保护由持有它的收集器负责。
type counterVec struct {
	name   string
	help   string
	series map[string]uint64
}

func newCounterVec(name, help string) *counterVec {
	return &counterVec{name: name, help: help, series: make(map[string]uint64)}
}

func (v *counterVec) inc(labelSet string) {
	v.series[labelSet]++
}

func (v *counterVec) write(b *strings.Builder) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", v.name, v.help, v.name)
	for _, labelSet := range sortedKeys(v.series) {
		if labelSet == "" {
			fmt.Fprintf(b, "%s %d\n", v.name, v.series[labelSet])
			continue
		}
		fmt.Fprintf(b, "%s{%s} %d\n", v.name, labelSet, v.series[labelSet])
	}
}

// histogram 维护累积桶计数。超出最后一个边界的观测只计入 +Inf。
type histogram struct {
	bounds []float64
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, counts: make([]uint64, len(bounds))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for i := len(h.bounds) - 1; i >= 0; i-- {
		if value > h.bounds[i] {
			break
		}
		h.counts[i]++
	}
}

// histogramVec 是一组带标签的直方图序列，共享同一组桶边界。
type histogramVec struct {
	name   string
	help   string
	bounds []float64
	series map[string]*histogram
}

func newHistogramVec(name, help string, bounds []float64) *histogramVec {
	return &histogramVec{name: name, help: help, bounds: bounds, series: make(map[string]*histogram)}
}

func (v *histogramVec) observe(labelSet string, value float64) {
	h := v.series[labelSet]
	if h == nil {
		h = newHistogram(v.bounds)
		v.series[labelSet] = h
	}
	h.observe(value)
}

func (v *histogramVec) write(b *strings.Builder) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", v.name, v.help, v.name)
	for _, labelSet := range sortedKeys(v.series) {
		h := v.series[labelSet]
		for i, bound := range h.bounds {
			fmt.Fprintf(b, "%s_bucket{%s} %d\n", v.name, joinLabels(labelSet, `le="`+formatFloat(bound)+`"`), h.counts[i])
		}
		fmt.Fprintf(b, "%s_bucket{%s} %d\n", v.name, joinLabels(labelSet, `le="+Inf"`), h.count)
		if labelSet == "" {
			fmt.Fprintf(b, "%s_sum %s\n%s_count %d\n", v.name, formatFloat(h.sum), v.name, h.count)
			continue
		}
		fmt.Fprintf(b, "%s_sum{%s} %s\n%s_count{%s} %d\n", v.name, labelSet, formatFloat(h.sum), v.name, labelSet, h.count)
	}
}

func joinLabels(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "," + extra
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
