// Package monitoring turns a running co-simulation into an HTTP server that
// reports its state and accepts pause, continue and stop requests.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/transceiver"
)

// A Controller is the simulation seen from the monitor.
type Controller interface {
	sim.TimeTeller
	CurrentStep() uint64
	Pause()
	Continue()
	Stop()
	Engines() []*engine.Handle
	Registry() *registry.Registry
	Executor() *transceiver.Executor
}

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
type Monitor struct {
	controller Controller
	portNumber int

	listener net.Listener
	server   *http.Server

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
	progressBarIDs   *sim.SequentialIDGenerator
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		progressBarIDs: sim.NewSequentialIDGenerator("bar-"),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterController registers the simulation to monitor.
func (m *Monitor) RegisterController(c Controller) {
	m.controller = c
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.progressBarIDs.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the router serving the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/pause", m.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueRun).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", m.stop).Methods(http.MethodPost)
	r.HandleFunc("/api/engines", m.listEngines)
	r.HandleFunc("/api/engine/{name}", m.engineDetails)
	r.HandleFunc("/api/devices", m.listDevices)
	r.HandleFunc("/api/functions", m.listFunctions)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server with a custom port if wanted.
func (m *Monitor) StartServer() {
	actualPort := ":" + strconv.Itoa(m.portNumber)

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(
		os.Stderr,
		"Monitoring simulation with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			log.Panic(err)
		}
	}()
}

// Port returns the port the server listens on, or 0 if it is not running.
func (m *Monitor) Port() int {
	if m.listener == nil {
		return 0
	}

	return m.listener.Addr().(*net.TCPAddr).Port
}

// StopServer closes the server.
func (m *Monitor) StopServer() {
	if m.server == nil {
		return
	}

	err := m.server.Close()
	if err != nil {
		log.Printf("monitor: %v", err)
	}

	m.server = nil
	m.listener = nil
}

func (m *Monitor) pause(w http.ResponseWriter, _ *http.Request) {
	m.controller.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueRun(w http.ResponseWriter, _ *http.Request) {
	m.controller.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) stop(w http.ResponseWriter, _ *http.Request) {
	m.controller.Stop()
	w.WriteHeader(http.StatusOK)
}

type nowRsp struct {
	Now  float64 `json:"now"`
	Step uint64  `json:"step"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, nowRsp{
		Now:  float64(m.controller.CurrentTime()),
		Step: m.controller.CurrentStep(),
	})
}

type engineRsp struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Time      float64 `json:"time"`
	Timestep  float64 `json:"timestep"`
	Critical  bool    `json:"critical"`
	Stale     bool    `json:"stale"`
	Steps     uint64  `json:"steps"`
	Retries   uint64  `json:"retries"`
	LastError string  `json:"last_error,omitempty"`
}

func (m *Monitor) listEngines(w http.ResponseWriter, _ *http.Request) {
	reg := m.controller.Registry()

	rsp := make([]engineRsp, 0)
	for _, h := range m.controller.Engines() {
		e := engineRsp{
			Name:     h.Name(),
			State:    h.State().String(),
			Time:     float64(h.Time()),
			Timestep: float64(h.Timestep()),
			Critical: h.Critical(),
			Stale:    reg.IsStale(h.Name()),
			Steps:    h.Steps(),
			Retries:  h.Retries(),
		}

		if err := h.LastError(); err != nil {
			e.LastError = err.Error()
		}

		rsp = append(rsp, e)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) engineDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	h := m.findEngineOr404(w, name)
	if h == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(h)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type deviceRsp struct {
	Name       string         `json:"name"`
	Engine     string         `json:"engine"`
	Type       string         `json:"type"`
	Generation uint64         `json:"generation"`
	Time       float64        `json:"time"`
	Kind       string         `json:"kind"`
	Payload    device.Payload `json:"payload,omitempty"`
}

// listDevices dumps the registry. With ?format=cbor each device is encoded
// with the canonical device codec and the response is a CBOR sequence.
func (m *Monitor) listDevices(w http.ResponseWriter, r *http.Request) {
	filter := device.Filter{
		Name:   r.URL.Query().Get("name"),
		Engine: r.URL.Query().Get("engine"),
		Type:   r.URL.Query().Get("type"),
	}

	if err := filter.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	devices := m.controller.Registry().LookupMatching(filter)

	if r.URL.Query().Get("format") == "cbor" {
		m.writeDevicesCBOR(w, devices)
		return
	}

	rsp := make([]deviceRsp, 0, len(devices))
	for _, d := range devices {
		id := d.ID()
		kind := device.KindNone

		p := d.Payload()
		if p != nil {
			kind = p.Kind()
		}

		rsp = append(rsp, deviceRsp{
			Name:       id.Name(),
			Engine:     id.Engine(),
			Type:       id.Type(),
			Generation: d.Generation(),
			Time:       float64(d.Time()),
			Kind:       kind.String(),
			Payload:    p,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) writeDevicesCBOR(
	w http.ResponseWriter,
	devices []device.Device,
) {
	buf := bytes.NewBuffer(nil)

	for _, d := range devices {
		data, err := device.Marshal(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		buf.Write(data)
	}

	w.Header().Set("Content-Type", "application/cbor-seq")
	_, err := w.Write(buf.Bytes())
	dieOnErr(err)
}

type functionRsp struct {
	Name                string   `json:"name"`
	TargetEngine        string   `json:"target_engine"`
	Upstream            []string `json:"upstream"`
	Active              bool     `json:"active"`
	Disabled            bool     `json:"disabled"`
	Invocations         uint64   `json:"invocations"`
	Failures            uint64   `json:"failures"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastError           string   `json:"last_error,omitempty"`
}

func (m *Monitor) listFunctions(w http.ResponseWriter, _ *http.Request) {
	executor := m.controller.Executor()
	if executor == nil {
		writeJSON(w, []functionRsp{})
		return
	}

	schedule := executor.Schedule()

	rsp := make([]functionRsp, 0)
	for _, s := range executor.Statuses() {
		f := functionRsp{
			Name:                s.Name,
			TargetEngine:        s.TargetEngine,
			Upstream:            schedule.Upstream(s.Name),
			Active:              s.Active,
			Disabled:            s.Disabled,
			Invocations:         s.Invocations,
			Failures:            s.Failures,
			ConsecutiveFailures: s.ConsecutiveFailures,
		}

		if s.LastError != nil {
			f.LastError = s.LastError.Error()
		}

		rsp = append(rsp, f)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findEngineOr404(
	w http.ResponseWriter,
	name string,
) *engine.Handle {
	for _, h := range m.controller.Engines() {
		if h.Name() == name {
			return h
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Engine not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
