// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package farfetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"

	"farfetch.dev/farfetch/pkg/errors/linuxerr"
)

// Metrics holds the Prometheus metrics exported by an Engine. A nil
// *Metrics records nothing.
type Metrics struct {
	Transfers        *prometheus.CounterVec
	Bytes            *prometheus.CounterVec
	PinnedPages      prometheus.Counter
	ShortPins        prometheus.Counter
	TransferDuration *prometheus.HistogramVec
}

// NewMetrics creates the farfetch metrics and registers them with reg. If
// reg is nil, the metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farfetch_transfers_total",
				Help: "Number of farfetch calls, by command and result.",
			},
			[]string{"command", "result"},
		),
		Bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farfetch_bytes_total",
				Help: "Bytes moved by successful farfetch calls.",
			},
			[]string{"command"},
		),
		PinnedPages: f.NewCounter(
			prometheus.CounterOpts{
				Name: "farfetch_pinned_pages_total",
				Help: "Target pages pinned for transfers.",
			},
		),
		ShortPins: f.NewCounter(
			prometheus.CounterOpts{
				Name: "farfetch_short_pins_total",
				Help: "Transfers that pinned fewer pages than their window spans.",
			},
		),
		TransferDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "farfetch_transfer_duration_seconds",
				Help:    "Duration of farfetch calls.",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
			},
			[]string{"command"},
		),
	}
}

// resultLabel returns the errno name of err, or "ok".
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := linuxerr.TranslateError(err); ok {
		if name := unix.ErrnoName(e.Errno()); name != "" {
			return name
		}
	}
	return "unknown"
}

func (m *Metrics) observe(cmd Command, n uint64, err error, d time.Duration) {
	if m == nil {
		return
	}
	label := "invalid"
	if cmd.Valid() {
		label = cmd.String()
	}
	m.Transfers.WithLabelValues(label, resultLabel(err)).Inc()
	m.TransferDuration.WithLabelValues(label).Observe(d.Seconds())
	if err == nil {
		m.Bytes.WithLabelValues(label).Add(float64(n))
	}
}

func (m *Metrics) pinned(got, want uint64) {
	if m == nil {
		return
	}
	m.PinnedPages.Add(float64(got))
	if got < want {
		m.ShortPins.Inc()
	}
}
