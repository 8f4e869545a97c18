package app

// Global config object, set by main.go
var Config struct {
	// URL where the coordinator can be reached.
	// This is used when telling a standalone worker which coordinator a
	// request came from, so progress envelopes can be posted back.
	CoordinatorURL string
	// URL of a standalone background worker, which runs as a separate
	// program. If empty, the in-process background context is used.
	WorkerURL string
	// sqlite database path
	DBPath string
}
