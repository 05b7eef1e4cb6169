// Package metrics exposes prometheus collectors for the relay handshake,
// session crypto, and transfer stages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "rshare"

// Registry is the prometheus registry every collector in this package binds
// to. A dedicated registry (rather than the default global one) keeps
// rshare's metrics isolated when the binary embeds other instrumented
// libraries.
var Registry = prometheus.NewRegistry()
