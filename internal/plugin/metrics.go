// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HookCalls counts hook invocations by plugin, hook and result.
var HookCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adchub_plugin_hook_calls_total",
		Help: "Total number of plugin hook invocations by result",
	},
	[]string{"plugin", "hook", "result"},
)

// RegisterMetrics registers the plugin metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HookCalls)
}
