package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsched_sweeps_total",
			Help: "Total scheduler sweeps executed",
		},
	)

	SweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsched_sweep_errors_total",
			Help: "Sweeps aborted by a store error",
		},
	)

	TasksSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsched_tasks_sent_total",
			Help: "Tasks that reached the sent status",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsched_tasks_failed_total",
			Help: "Tasks that reached the failed status",
		},
	)

	RecipientsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsched_recipients_sent_total",
			Help: "Individual recipient deliveries accepted by the mail transport",
		},
	)

	RecipientsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsched_recipients_failed_total",
			Help: "Individual recipient deliveries rejected by the mail transport",
		},
	)

	TasksProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsched_tasks_processing",
			Help: "Tasks currently held in the processing status by this instance",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		SweepsTotal,
		SweepErrors,
		TasksSent,
		TasksFailed,
		RecipientsSent,
		RecipientsFailed,
		TasksProcessing,
	)
}
