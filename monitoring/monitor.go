// Package monitoring serves a web page and a JSON API that show the
// components of a running network, their connections and the process.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
	"github.com/pvbeek/componentnetwork/monitoring/web"
	"github.com/pvbeek/componentnetwork/network"
)

type connectionOwner interface {
	Connections() []network.Connection
}

// Monitor turns a running network into a web server that allows external
// inspection.
type Monitor struct {
	lock        sync.Mutex
	components  []network.Component
	connections []network.Connection

	portNumber int
	gatherer   prometheus.Gatherer
	ingressURL string
	logger     *slog.Logger

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
}

// WithPortNumber sets the port number of the monitor. Zero picks a free port.
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

// WithGatherer sets where /metrics reads metrics from.
func (m *Monitor) WithGatherer(g prometheus.Gatherer) *Monitor {
	m.gatherer = g
	return m
}

// WithIngressURL tells the web page where to post payloads.
func (m *Monitor) WithIngressURL(url string) *Monitor {
	m.ingressURL = url
	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// RegisterComponent registers a component to be monitored, together with the
// connections it is bound to.
func (m *Monitor) RegisterComponent(c network.Component) {
	m.lock.Lock()
	m.components = append(m.components, c)
	m.lock.Unlock()

	if owner, ok := c.(connectionOwner); ok {
		for _, conn := range owner.Connections() {
			m.RegisterConnection(conn)
		}
	}
}

// RegisterConnection registers a connection to be monitored. Registering the
// same connection twice has no effect.
func (m *Monitor) RegisterConnection(conn network.Connection) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, c := range m.connections {
		if c == conn {
			return
		}
	}

	m.connections = append(m.connections, conn)
}

// Router returns the routes served by the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/connections", m.listConnections)
	r.HandleFunc("/api/ingress", m.ingress)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	r.PathPrefix("/").Handler(http.FileServer(web.Assets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.server != nil {
		return "", cnerrors.WrapInvalid(cnerrors.ErrAlreadyStarted,
			"Monitor", "StartServer", "start monitoring server")
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", cnerrors.WrapFatal(err, "Monitor", "StartServer", "listen")
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitoring server failed", "error", err)
		}
	}()

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring network with %s\n", url)

	return url, nil
}

// OpenInBrowser opens the monitoring page of a started server.
func (m *Monitor) OpenInBrowser() error {
	m.lock.Lock()
	listener := m.listener
	m.lock.Unlock()

	if listener == nil {
		return cnerrors.WrapInvalid(cnerrors.ErrNotStarted,
			"Monitor", "OpenInBrowser", "open page")
	}

	port := listener.Addr().(*net.TCPAddr).Port

	return browser.OpenURL(fmt.Sprintf("http://localhost:%d", port))
}

// Stop shuts the server down.
func (m *Monitor) Stop(ctx context.Context) error {
	m.lock.Lock()
	server := m.server
	m.lock.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, len(m.components))
	for i, c := range m.components {
		names[i] = c.Name()
	}
	m.lock.Unlock()

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.logger.Warn("serialize component", "component", name, "error", err)
	}
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	if err := serializer.SetEntryPoint(strings.Split(req.FieldName, ".")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := serializer.Serialize(w); err != nil {
		m.logger.Warn("serialize field", "component", req.CompName, "error", err)
	}
}

type connectionRsp struct {
	Name          string `json:"name"`
	Bidirectional bool   `json:"bidirectional"`
	Requests      int    `json:"requests"`
	Replies       int    `json:"replies"`
}

func (m *Monitor) listConnections(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := parseListParams(r)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	m.lock.Lock()
	rsp := make([]connectionRsp, 0, len(m.connections))
	for _, c := range m.connections {
		item := connectionRsp{Name: c.Name(), Bidirectional: c.Bidirectional()}
		if d, ok := c.(network.DepthReporter); ok {
			item.Requests, item.Replies = d.QueueDepth()
		}
		rsp = append(rsp, item)
	}
	m.lock.Unlock()

	sortConnections(rsp, sortMethod)

	writeJSON(w, page(rsp, limit, offset))
}

func parseListParams(r *http.Request) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "depth"
	}
	if sortMethod != "depth" && sortMethod != "name" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `depth` and `name`",
			sortMethod)
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			return "", 0, 0, fmt.Errorf("invalid limit: %s", s)
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return "", 0, 0, fmt.Errorf("invalid offset: %s", s)
		}
	}

	return sortMethod, limit, offset, nil
}

func sortConnections(conns []connectionRsp, sortMethod string) {
	if sortMethod == "name" {
		sort.SliceStable(conns, func(i, j int) bool {
			return conns[i].Name < conns[j].Name
		})
		return
	}

	sort.SliceStable(conns, func(i, j int) bool {
		di := conns[i].Requests + conns[i].Replies
		dj := conns[j].Requests + conns[j].Replies
		if di != dj {
			return di > dj
		}
		return conns[i].Name < conns[j].Name
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}

	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

func (m *Monitor) ingress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"url": m.ingressURL})
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("duration"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "invalid duration: "+s, http.StatusBadRequest)
			return
		}
		duration = d
	}

	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) network.Component {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	http.Error(w, "Component not found", http.StatusNotFound)

	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
