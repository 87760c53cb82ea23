/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package overlay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the overlay metrics served by the management endpoint.
var Registry = prometheus.NewRegistry()

var (
	metricFramesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tincan",
		Name:      "frames_out_total",
		Help:      "Frames transmitted on links, by tag.",
	}, []string{"overlay", "kind"})

	metricFramesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tincan",
		Name:      "frames_in_total",
		Help:      "Frames received from links, by tag.",
	}, []string{"overlay", "kind"})

	metricDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tincan",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped, by reason.",
	}, []string{"overlay", "reason"})

	metricUnresolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tincan",
		Name:      "unresolved_destinations_total",
		Help:      "Frames escalated to the controller for lack of a route.",
	}, []string{"overlay"})

	metricLinksUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tincan",
		Name:      "links_up",
		Help:      "Link sessions currently ready.",
	}, []string{"overlay"})
)

func init() {
	Registry.MustRegister(
		metricFramesOut,
		metricFramesIn,
		metricDropped,
		metricUnresolved,
		metricLinksUp,
	)
}

// forgetMetrics removes the series of a removed overlay.
func forgetMetrics(overlay string) {
	labels := prometheus.Labels{"overlay": overlay}
	metricFramesOut.DeletePartialMatch(labels)
	metricFramesIn.DeletePartialMatch(labels)
	metricDropped.DeletePartialMatch(labels)
	metricUnresolved.DeletePartialMatch(labels)
	metricLinksUp.DeletePartialMatch(labels)
}
