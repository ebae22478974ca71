// Package metrics provides Prometheus metrics for the CloudVault client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API request metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_api_requests_total",
			Help: "Total number of API requests by outcome",
		},
		[]string{"method", "outcome"},
	)

	// Transfer metrics
	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudvault_upload_bytes_total",
			Help: "Total bytes sent to the upload endpoint",
		},
	)

	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudvault_download_bytes_total",
			Help: "Total bytes retrieved through download URLs",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	// Directory cache metrics
	folderLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudvault_folder_loads_total",
			Help: "Folder listing loads by result (applied, stale, failed)",
		},
		[]string{"result"},
	)
)

// ObserveRequest records one API request and its outcome kind.
func ObserveRequest(method, outcome string) {
	apiRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// AddUploadBytes records bytes sent during uploads.
func AddUploadBytes(n int64) {
	if n > 0 {
		uploadBytesTotal.Add(float64(n))
	}
}

// AddDownloadBytes records bytes retrieved during downloads.
func AddDownloadBytes(n int64) {
	if n > 0 {
		downloadBytesTotal.Add(float64(n))
	}
}

// ObserveUpload records one finished upload.
func ObserveUpload(status string) {
	uploadsTotal.WithLabelValues(status).Inc()
}

// ObserveFolderLoad records the result of a folder listing load.
func ObserveFolderLoad(result string) {
	folderLoadsTotal.WithLabelValues(result).Inc()
}
