package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admissions counts terminal pipeline outcomes. outcome is "accepted",
// "rejected" or "error"; reason carries the rejection reason code and is
// empty otherwise.
var Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_admissions_total",
	Help: "Terminal attendance admission outcomes by reason.",
}, []string{"outcome", "reason"})

// QueuePublishFailures counts archival messages that could not be enqueued.
var QueuePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "attendance_queue_publish_failures_total",
	Help: "Archival queue publish failures.",
})

// ArchivedCaptures counts captures uploaded by the worker.
var ArchivedCaptures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "attendance_archived_captures_total",
	Help: "Accepted captures archived to image storage.",
})
