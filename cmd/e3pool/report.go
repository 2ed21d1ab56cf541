// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/e3nn/pkg/ml/config"
	"github.com/janpfeifer/must"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gopkg.in/yaml.v3"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// equivarianceTolerance above which the equivariance error is highlighted.
const equivarianceTolerance = 1e-9

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func printParams(c *config.Config) {
	fmt.Println(titleStyle.Render("Configuration"))
	var values map[string]any
	must.M(yaml.Unmarshal(must.M1(c.Marshal()), &values))
	table := newPlainTable(true).Headers("Parameter", "Value")
	for _, name := range config.ParamNames {
		table.Row(name, fmt.Sprintf("%v", values[name]))
	}
	fmt.Println(table.Render())
}

func printReport(r *report) {
	fmt.Println(titleStyle.Render("Pipeline"))
	table := newPlainTable(false)
	table.Row("# points", humanize.Comma(int64(r.numPoints)))
	table.Row("# batch entries", humanize.Comma(int64(r.numBatches)))
	table.Row("# edges", humanize.Comma(int64(r.numEdges)))
	table.Row("# coarse nodes", humanize.Comma(int64(r.numCoarseNodes)))
	table.Row("# coarse edges", humanize.Comma(int64(r.numCoarseEdges)))
	table.Row("# symmetric groups", humanize.Comma(int64(r.numSymmetricGroups)))
	table.Row("convolution time", r.convTime.String())
	table.Row("pooling time", r.poolTime.String())
	table.Row("symmetric kmeans time", r.symmetricTime.String())
	table.Row("convolution equivariance error", renderError(r.convEquivarianceError))
	if r.sameClassification {
		table.Row("pooling equivariance error", renderError(r.poolEquivarianceError))
	} else {
		table.Row("pooling equivariance error", errorStyle.Render("classification changed under rotation"))
	}
	fmt.Println(table.Render())
}

func renderError(value float64) string {
	text := fmt.Sprintf("%.3g", value)
	if value > equivarianceTolerance {
		return errorStyle.Render(text)
	}
	return okStyle.Render(text)
}

// printMetrics lists the metrics of this module registered in the default Prometheus registry.
func printMetrics() {
	families := must.M1(prometheus.DefaultGatherer.Gather())
	fmt.Println(titleStyle.Render("Metrics"))
	table := newPlainTable(true).Headers("Metric", "Labels", "Value")
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), "e3nn_") {
			continue
		}
		for _, metric := range family.GetMetric() {
			table.Row(family.GetName(), renderLabels(metric.GetLabel()), renderValue(metric))
		}
	}
	fmt.Println(table.Render())
}

func renderLabels(labels []*dto.LabelPair) string {
	parts := make([]string, len(labels))
	for ii, label := range labels {
		parts[ii] = fmt.Sprintf("%s=%s", label.GetName(), label.GetValue())
	}
	return strings.Join(parts, ",")
}

func renderValue(metric *dto.Metric) string {
	switch {
	case metric.GetCounter() != nil:
		return humanize.Comma(int64(metric.GetCounter().GetValue()))
	case metric.GetHistogram() != nil:
		h := metric.GetHistogram()
		count := h.GetSampleCount()
		if count == 0 {
			return "no samples"
		}
		return fmt.Sprintf("%s samples, mean %.1f", humanize.Comma(int64(count)), h.GetSampleSum()/float64(count))
	}
	return "-"
}
