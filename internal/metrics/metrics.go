// Package metrics exports grabber activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
)

const namespace = "frame_grabber"

// StatsSource is anything that can report grabber stats (*framegrabber.Grabber).
type StatsSource interface {
	Stats() framegrabber.GrabberStats
}

// Collector reads a stats snapshot on every scrape.
type Collector struct {
	source StatsSource

	running        *prometheus.Desc
	uptime         *prometheus.Desc
	grabs          *prometheus.Desc
	grabTimeouts   *prometheus.Desc
	delivered      *prometheus.Desc
	dropped        *prometheus.Desc
	deliveryErrors *prometheus.Desc
	metaErrors     *prometheus.Desc
	bytesCopied    *prometheus.Desc
	lastSeq        *prometheus.Desc
	lastFrameAge   *prometheus.Desc
	frameRate      *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		source:         source,
		running:        desc("running", "1 while the pipeline is started", "state"),
		uptime:         desc("uptime_seconds", "Time since the last successful start"),
		grabs:          desc("grabs_total", "Completed grab calls"),
		grabTimeouts:   desc("grab_timeouts_total", "Grabs that ended on their context"),
		delivered:      desc("frames_delivered_total", "Deliveries copied into the frame slot"),
		dropped:        desc("frames_dropped_total", "Deliveries discarded because no grab was armed"),
		deliveryErrors: desc("delivery_errors_total", "Deliveries with unusable geometry or data"),
		metaErrors:     desc("meta_errors_total", "Deliveries whose metadata could not be parsed"),
		bytesCopied:    desc("bytes_copied_total", "Pixel bytes copied"),
		lastSeq:        desc("last_seq", "Sequence number of the frame in the slot"),
		lastFrameAge:   desc("last_frame_age_seconds", "Age of the frame in the slot"),
		frameRate:      desc("camera_frame_rate", "Frame rate reported by the source"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.uptime
	ch <- c.grabs
	ch <- c.grabTimeouts
	ch <- c.delivered
	ch <- c.dropped
	ch <- c.deliveryErrors
	ch <- c.metaErrors
	ch <- c.bytesCopied
	ch <- c.lastSeq
	ch <- c.lastFrameAge
	ch <- c.frameRate
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	running := 0.0
	if s.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running, s.State)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
	ch <- prometheus.MustNewConstMetric(c.grabs, prometheus.CounterValue, float64(s.Grabs))
	ch <- prometheus.MustNewConstMetric(c.grabTimeouts, prometheus.CounterValue, float64(s.GrabTimeouts))
	ch <- prometheus.MustNewConstMetric(c.delivered, prometheus.CounterValue, float64(s.Delivered))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.deliveryErrors, prometheus.CounterValue, float64(s.DeliveryErrors))
	ch <- prometheus.MustNewConstMetric(c.metaErrors, prometheus.CounterValue, float64(s.MetaErrors))
	ch <- prometheus.MustNewConstMetric(c.bytesCopied, prometheus.CounterValue, float64(s.BytesCopied))
	ch <- prometheus.MustNewConstMetric(c.lastSeq, prometheus.GaugeValue, float64(s.LastSeq))

	age := 0.0
	if !s.LastFrameAt.IsZero() {
		age = time.Since(s.LastFrameAt).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.lastFrameAge, prometheus.GaugeValue, age)
	ch <- prometheus.MustNewConstMetric(c.frameRate, prometheus.GaugeValue, s.CameraFrameRate)
}

// Recorder holds the metrics observed by the capture loop itself.
type Recorder struct {
	GrabDuration  prometheus.Histogram
	FrameInterval prometheus.Histogram
	FramesSaved   prometheus.Counter
	SaveErrors    prometheus.Counter
}

// NewRecorder creates the capture-loop metrics and registers them, together
// with a Collector over source, on reg.
func NewRecorder(reg prometheus.Registerer, source StatsSource) *Recorder {
	r := &Recorder{
		GrabDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grab_duration_seconds",
			Help:      "Time a grab call blocked waiting for a frame",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		FrameInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "camera_frame_interval_seconds",
			Help:      "Camera timestamp difference between consecutive grabs",
			Buckets:   []float64{.005, .01, .02, .033, .05, .1, .2, .5, 1},
		}),
		FramesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_saved_total",
			Help:      "Frames written to disk",
		}),
		SaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_errors_total",
			Help:      "Frames that could not be written to disk",
		}),
	}

	reg.MustRegister(NewCollector(source), r.GrabDuration, r.FrameInterval, r.FramesSaved, r.SaveErrors)
	return r
}
