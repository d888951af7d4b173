// Package metrics exposes Sphynx server internals as Prometheus
// collectors, grounded on the exporter pattern used for TCP connection
// stats in the example pack's conniver tool: custom Collector
// implementations that read a live data structure at scrape time rather
// than pushing updates through counters on every event.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PopulationSource is implemented by the ConnexionMap so the collector can
// read its live size at scrape time instead of double-bookkeeping a counter.
type PopulationSource interface {
	Population() int
	Capacity() int
}

// FloodSource is implemented by the FloodGuard.
type FloodSource interface {
	RejectedTotal() uint64
}

// Collector implements prometheus.Collector, gathering ConnexionMap
// population and FloodGuard rejection counts on every scrape.
type Collector struct {
	population *prometheus.Desc
	capacity   *prometheus.Desc
	floodTotal *prometheus.Desc

	conns  PopulationSource
	floods FloodSource
}

// NewCollector builds a Collector reading from conns and floods. Either may
// be nil, in which case its metrics are simply omitted from a scrape.
func NewCollector(conns PopulationSource, floods FloodSource) *Collector {
	return &Collector{
		population: prometheus.NewDesc(
			"sphynx_connexions", "Current number of active Connexions.", nil, nil),
		capacity: prometheus.NewDesc(
			"sphynx_connexion_capacity", "Maximum number of Connexions the map can hold.", nil, nil),
		floodTotal: prometheus.NewDesc(
			"sphynx_flood_rejected_total", "Total connection attempts rejected by the flood guard.", nil, nil),
		conns:  conns,
		floods: floods,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.population
	ch <- c.capacity
	ch <- c.floodTotal
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.conns != nil {
		ch <- prometheus.MustNewConstMetric(c.population, prometheus.GaugeValue, float64(c.conns.Population()))
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.conns.Capacity()))
	}
	if c.floods != nil {
		ch <- prometheus.MustNewConstMetric(c.floodTotal, prometheus.CounterValue, float64(c.floods.RejectedTotal()))
	}
}

// ConnexionGauges are per-Connexion metric vectors that a caller sets
// directly on change rather than having them read lazily at scrape time.
// Nothing in this module creates or sets them.
type ConnexionGauges struct {
	RTT          *prometheus.GaugeVec
	FlowBudget   *prometheus.GaugeVec
	BytesSent    *prometheus.CounterVec
	BytesRecv    *prometheus.CounterVec
}

// NewConnexionGauges registers and returns the per-Connexion metric
// vectors, labeled by connexion id.
func NewConnexionGauges(reg prometheus.Registerer) *ConnexionGauges {
	g := &ConnexionGauges{
		RTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sphynx_rtt_ms",
			Help: "Estimated round-trip time in milliseconds.",
		}, []string{"connexion"}),
		FlowBudget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sphynx_flow_budget_bytes",
			Help: "Current AIMD send budget in bytes per second.",
		}, []string{"connexion"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sphynx_bytes_sent_total",
			Help: "Total bytes sent per Connexion.",
		}, []string{"connexion"}),
		BytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sphynx_bytes_received_total",
			Help: "Total bytes received per Connexion.",
		}, []string{"connexion"}),
	}
	reg.MustRegister(g.RTT, g.FlowBudget, g.BytesSent, g.BytesRecv)
	return g
}

// Forget removes every series labeled with id, called when a Connexion is
// reclaimed so scrapes don't accumulate stale label sets forever.
func (g *ConnexionGauges) Forget(id string) {
	g.RTT.DeleteLabelValues(id)
	g.FlowBudget.DeleteLabelValues(id)
	g.BytesSent.DeleteLabelValues(id)
	g.BytesRecv.DeleteLabelValues(id)
}
