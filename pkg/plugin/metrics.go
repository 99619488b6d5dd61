// Copyright 2025 walteh LLC
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

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployrc",
		Name:      "items_total",
		Help:      "Items processed by batch operations, by outcome.",
	}, []string{"target", "operation", "outcome"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployrc",
		Name:      "bytes_total",
		Help:      "Payload bytes transferred by successful items.",
	}, []string{"target", "operation"})

	connectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deployrc",
		Name:      "connections_total",
		Help:      "Backend connections opened per batch, by outcome.",
	}, []string{"backend", "outcome"})
)

func observe(o Outcome) {
	outcome := "success"
	if o.Err != nil {
		outcome = "failure"
	}
	itemsTotal.WithLabelValues(o.Target, o.Operation.String(), outcome).Inc()
	if o.Err == nil && o.Bytes > 0 {
		bytesTotal.WithLabelValues(o.Target, o.Operation.String()).Add(float64(o.Bytes))
	}
}

func observeConnection(backend string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	connectionsTotal.WithLabelValues(backend, outcome).Inc()
}
