// Package webserver implements the diagnostics server.
package webserver

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"sync/atomic"

	"github.com/desertwitch/ctxfs/assets"
	"github.com/desertwitch/ctxfs/internal/filesystem"
	"github.com/desertwitch/ctxfs/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

const maxContextBody = 1 << 20 // 1MiB

var (
	//go:embed templates/*.html
	templateFS    embed.FS
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))
)

// FSDashboard is the implementation of the filesystem dashboard.
type FSDashboard struct {
	version string
	fsys    *filesystem.FS
	rbuf    *logging.RingBuffer
}

// NewFSDashboard returns a pointer to a new [FSDashboard].
func NewFSDashboard(fsys *filesystem.FS, rbuf *logging.RingBuffer, version string) *FSDashboard {
	return &FSDashboard{
		version: version,
		fsys:    fsys,
		rbuf:    rbuf,
	}
}

// Serve serves the diagnostics dashboard as part of a [http.Server].
func (d *FSDashboard) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: d.Handler()} //nolint:gosec

	go func() {
		defer func() {
			r := recover()
			if r != nil {
				fmt.Fprintf(os.Stderr, "(webserver) PANIC: %v\n", r)
				debug.PrintStack()
			}
		}()
		d.rbuf.Printf("serving dashboard on %s\n", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.rbuf.Printf("HTTP error: %v\n", err)
		}
	}()

	return srv
}

// Handler returns the [http.Handler] of the dashboard,
// compressing the responses for clients that accept it.
func (d *FSDashboard) Handler() http.Handler {
	return gzhttp.GzipHandler(d.dashboardMux())
}

func (d *FSDashboard) dashboardMux() *mux.Router {
	mux := mux.NewRouter()

	mux.HandleFunc("/", d.dashboardHandler)
	mux.HandleFunc("/metrics.json", d.metricsHandler)
	mux.HandleFunc("/context", d.contextGetHandler).Methods(http.MethodGet, http.MethodHead)
	mux.HandleFunc("/context", d.contextPostHandler).Methods(http.MethodPost)
	mux.HandleFunc("/gc", d.gcHandler)
	mux.HandleFunc("/reset", d.resetMetricsHandler)

	mux.HandleFunc("/set/exact-size/{value}",
		d.booleanHandler("Exact context size", &d.fsys.Options.ExactContextSize))
	mux.HandleFunc("/set/verbose/{value}",
		d.booleanHandler("Verbose logging", &d.fsys.Options.Verbose))

	mux.HandleFunc("/ctxfs.svg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write(assets.Logo)
	})

	return mux
}

type fsDashboardData struct {
	AllocBytes        string                    `json:"allocBytes"`
	AvgReadSize       string                    `json:"avgReadSize"`
	Context           []string                  `json:"context"`
	ContextBytes      string                    `json:"contextBytes"`
	ContextLines      int                       `json:"contextLines"`
	ExactContextSize  string                    `json:"exactContextSize"`
	Logs              []string                  `json:"logs"`
	NumGC             uint32                    `json:"numGc"`
	OriginDir         string                    `json:"originDir"`
	RecentReads       []filesystem.AccessRecord `json:"recentReads"`
	RecentTTL         string                    `json:"recentTtl"`
	RingBufferSize    int                       `json:"ringBufferSize"`
	SysBytes          string                    `json:"sysBytes"`
	TotalAlloc        string                    `json:"totalAlloc"`
	TotalContextLines int64                     `json:"totalContextLines"`
	TotalErrors       int64                     `json:"totalErrors"`
	TotalReadBytes    string                    `json:"totalReadBytes"`
	TotalReads        int64                     `json:"totalReads"`
	TotalWriteBytes   string                    `json:"totalWriteBytes"`
	TotalWrites       int64                     `json:"totalWrites"`
	Uptime            string                    `json:"uptime"`
	Verbose           string                    `json:"verbose"`
	Version           string                    `json:"version"`
}

func (d *FSDashboard) collectMetrics() fsDashboardData {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lines := d.rbuf.Lines()
	slices.Reverse(lines)

	store := d.fsys.Context()

	return fsDashboardData{
		AllocBytes:        humanize.IBytes(m.Alloc),
		AvgReadSize:       d.avgReadSize(),
		Context:           store.Lines(),
		ContextBytes:      humanize.IBytes(uint64(len(store.Prefix()))), //nolint:gosec
		ContextLines:      store.Len(),
		ExactContextSize:  enabledOrDisabled(d.fsys.Options.ExactContextSize.Load()),
		Logs:              lines,
		NumGC:             m.NumGC,
		OriginDir:         d.fsys.OriginDir,
		RecentReads:       d.fsys.RecentReads(),
		RecentTTL:         d.recentTTL(),
		RingBufferSize:    d.rbuf.Size(),
		SysBytes:          humanize.IBytes(m.Sys),
		TotalAlloc:        humanize.IBytes(m.TotalAlloc),
		TotalContextLines: d.fsys.Metrics.TotalContextLines.Load(),
		TotalErrors:       d.fsys.Metrics.Errors.Load(),
		TotalReadBytes:    nonNegativeBytes(d.fsys.Metrics.TotalReadBytes.Load()),
		TotalReads:        d.fsys.Metrics.TotalReads.Load(),
		TotalWriteBytes:   nonNegativeBytes(d.fsys.Metrics.TotalWriteBytes.Load()),
		TotalWrites:       d.fsys.Metrics.TotalWrites.Load(),
		Uptime:            humanize.Time(d.fsys.MountTime),
		Verbose:           enabledOrDisabled(d.fsys.Options.Verbose.Load()),
		Version:           d.version,
	}
}

func (d *FSDashboard) dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	if err := indexTemplate.Execute(w, data); err != nil {
		d.rbuf.Printf("HTTP template execution error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	data := d.collectMetrics()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (d *FSDashboard) contextGetHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.fsys.Context().Prefix())
}

func (d *FSDashboard) contextPostHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContextBody))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)

		return
	}

	added := d.fsys.Router.AppendContext(body)

	d.rbuf.Printf("Context appended via API: %d line(s).\n", added)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Context appended: %d line(s).\n", added)
}

func (d *FSDashboard) gcHandler(w http.ResponseWriter, _ *http.Request) {
	runtime.GC()
	debug.FreeOSMemory()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.rbuf.Printf("GC forced via API, current heap: %s.\n", humanize.IBytes(m.Alloc))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "GC forced, current heap: %s.\n", humanize.IBytes(m.Alloc))
}

func (d *FSDashboard) resetMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	d.fsys.Metrics.Reset()
	d.fsys.ResetRecentReads()

	d.rbuf.Println("Metrics reset via API.")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Metrics reset.")
}

func (d *FSDashboard) booleanHandler(desc string, target *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		val, err := strconv.ParseBool(vars["value"])
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid boolean value: %v", err), http.StatusBadRequest)

			return
		}
		target.Store(val)

		d.rbuf.Printf("%s set via API: %t.\n", desc, val)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s set: %t.\n", desc, val)
	}
}
