// Package httpapi implements the REST/HTTP boundary contract of spec §6:
// a thin router translating each documented verb into a registry/event
// store call, with the response shapes §6 specifies ({"data": ...} for
// payloads, {"info": "..."} for human messages, bare status codes for
// empty success and failure). The router itself carries no domain logic;
// every handler is a few lines of translation plus error-code-to-status
// mapping (spec §7 "Propagation"). Devices are addressed by their numeric
// slot index in every route, per spec §6's `/api/v1/devices/{i}` table.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/ratelimit"

	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/store/slot"
	"aquacore/x/logx"
)

// Registry is the subset of *registry.Registry the API surface needs,
// narrowed to an interface so handlers can be tested against a fake.
type Registry interface {
	CreateDevice(index *int, name string, cfg device.Config) (int, error)
	RemoveDevice(index int) error
	WriteValue(index int, channel string, v device.Value) error
	ReadValue(index int, channel string) (device.Value, error)
	CallAction(index int, action string, args []byte) error
	Info(index int) (registry.Info, error)
	Overview() []slot.Overview
}

// Volume streams a raw backup of the persisted partition image and
// accepts a full restore of it (spec §4.9, §6 "Stream raw values
// partition image").
type Volume interface {
	Backup(ctx context.Context, w io.Writer) error
	Restore(ctx context.Context, r io.Reader) error
}

// deviceOverview is the per-device shape of the GET /devices listing
// (spec §4.3 "RetrieveDeviceOverview": {index, description, driver_name}).
type deviceOverview struct {
	Index       int    `json:"index"`
	Description string `json:"description,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
}

// addDeviceRequest is the POST/PUT /devices body (spec §6).
type addDeviceRequest struct {
	Description string          `json:"description"`
	DriverType  string          `json:"driver_type"`
	DriverParam json.RawMessage `json:"driver_param"`
}

// Server wires a Registry and Volume to a mux.Router implementing every
// route of spec §6's table, token-bucket rate limited ambient to every
// handler (domain stack: juju/ratelimit) and wrapped with the 30s coarse
// read/write timeouts of spec §5.
type Server struct {
	router *mux.Router
	reg    Registry
	vol    Volume
	bucket *ratelimit.Bucket
}

// NewServer builds the router. rateHz/burst configure the request
// throttle (0 disables it).
func NewServer(reg Registry, vol Volume, rateHz float64, burst int64) *Server {
	s := &Server{reg: reg, vol: vol}
	if rateHz > 0 {
		s.bucket = ratelimit.NewBucketWithRate(rateHz, burst)
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api/v1/devices", s.throttle(s.listOrBackup)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices", s.throttle(s.addOrRestore)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/devices/{index:[0-9]+}", s.throttle(s.readDevice)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices/{index:[0-9]+}/info", s.throttle(s.deviceInfo)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices/{index:[0-9]+}", s.throttle(s.addDevice)).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/devices/{index:[0-9]+}/{what}", s.throttle(s.writeDeviceOptions)).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/devices/{index:[0-9]+}", s.throttle(s.removeDevice)).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/devices/{index:[0-9]+}/{what}", s.throttle(s.patchDevice)).Methods(http.MethodPatch)
}

// Handler returns the wired http.Handler, ready to be served behind an
// *http.Server configured with the coarse 30s timeouts of spec §5.
func (s *Server) Handler() http.Handler { return s.router }

// NewHTTPServer wraps Handler with the 30s read/write timeouts spec §5
// mandates for HTTP handlers.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (s *Server) throttle(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.bucket != nil && s.bucket.TakeAvailable(1) == 0 {
			writeInfo(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(w, r)
	}
}

// pathIndex parses the {index} mux var; the route regexp already restricts
// it to digits, so a parse failure here would be a routing bug, not user
// input -- still reported as malformed rather than panicking.
func pathIndex(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)["index"])
	return n, err == nil
}

// --- Collection routes ---

func (s *Server) listOrBackup(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") == "application/octet-stream" {
		s.backup(w, r)
		return
	}
	overview := s.reg.Overview()
	out := make([]deviceOverview, 0, len(overview))
	for _, e := range overview {
		if !e.Initialized {
			continue
		}
		info, err := s.reg.Info(e.Index)
		entry := deviceOverview{Index: e.Index, Description: e.Name}
		if err == nil {
			entry.DriverName = info.DriverName
		}
		out = append(out, entry)
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	if s.vol == nil {
		writeInfo(w, http.StatusInternalServerError, "no partition volume configured")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if err := s.vol.Backup(r.Context(), w); err != nil {
		logx.For("httpapi").Error("partition backup failed", "err", err)
	}
}

func (s *Server) addOrRestore(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") == "application/octet-stream" {
		s.restore(w, r)
		return
	}
	s.addDeviceFromBody(w, r, nil)
}

// restore replaces the entire partition image (spec §4.9 "upload
// backup") through the Volume. Only the Volume's contents change: nothing
// re-reads snapshots from it, and the registry, the store and the running
// drivers keep their current state.
func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	if s.vol == nil {
		writeInfo(w, http.StatusInternalServerError, "no partition volume configured")
		return
	}
	if err := s.vol.Restore(r.Context(), r.Body); err != nil {
		writeInfo(w, http.StatusInternalServerError, "restore failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		writeInfo(w, http.StatusBadRequest, "malformed index")
		return
	}
	s.addDeviceFromBody(w, r, &index)
}

func (s *Server) addDeviceFromBody(w http.ResponseWriter, r *http.Request, index *int) {
	var req addDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInfo(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DriverType == "" {
		writeInfo(w, http.StatusBadRequest, "driver_type is required")
		return
	}
	if req.Description == "" {
		writeInfo(w, http.StatusBadRequest, "description is required to name the device")
		return
	}

	var cfg device.Config
	cfg.DriverName = req.DriverType
	if !cfg.SetPayload(req.DriverParam) {
		writeInfo(w, http.StatusBadRequest, "driver_param too large")
		return
	}

	idx, err := s.reg.CreateDevice(index, req.Description, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"index": idx, "info": "Ok added device"})
}

// --- Single-device routes ---

func (s *Server) readDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		writeInfo(w, http.StatusBadRequest, "malformed index")
		return
	}
	what := r.URL.Query().Get("what")
	info, err := s.reg.Info(index)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := map[string]any{}
	if what != "" {
		v, err := s.reg.ReadValue(index, what)
		if err != nil {
			writeErr(w, err)
			return
		}
		out[what] = v
		writeData(w, http.StatusOK, out)
		return
	}
	for _, ch := range info.Channels {
		v, err := s.reg.ReadValue(index, ch)
		if err != nil {
			continue
		}
		out[ch] = v
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) deviceInfo(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		writeInfo(w, http.StatusBadRequest, "malformed index")
		return
	}
	info, err := s.reg.Info(index)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, info)
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		writeInfo(w, http.StatusBadRequest, "malformed index")
		return
	}
	if err := s.reg.RemoveDevice(index); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDeviceOptions(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		writeInfo(w, http.StatusBadRequest, "malformed index")
		return
	}
	action := mux.Vars(r)["what"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeInfo(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if err := s.reg.CallAction(index, action, body); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) patchDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r)
	if !ok {
		writeInfo(w, http.StatusBadRequest, "malformed index")
		return
	}
	what := mux.Vars(r)["what"]
	var v device.Value
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeInfo(w, http.StatusBadRequest, "malformed value payload")
		return
	}
	if err := s.reg.WriteValue(index, what, v); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- response helpers ---

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeInfo(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"info": msg})
}

// writeErr maps a core errcode.Code to the HTTP status spec §7 assigns it.
func writeErr(w http.ResponseWriter, err error) {
	switch errcode.Of(err) {
	case errcode.IndexInvalid:
		writeInfo(w, http.StatusNotFound, err.Error())
	case errcode.MalformedInput:
		writeInfo(w, http.StatusBadRequest, err.Error())
	case errcode.NotSupported, errcode.CollectionFull, errcode.AddressCollision, errcode.ResourceBusy, errcode.Busy:
		writeInfo(w, http.StatusBadRequest, err.Error())
	default:
		writeInfo(w, http.StatusInternalServerError, err.Error())
	}
}
