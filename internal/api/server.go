package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/floatbase/internal/contacts"
	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/odometry"
)

// Control is the operator surface of the observer.
type Control interface {
	State() fusion.State
	Last() fusion.Output
	OdometryMode() odometry.Mode
	SetOdometryMode(mode odometry.Mode) error
	SetSensorEnabled(name string, enabled bool) error
	InjectFault()
}

// SolverControl queues planner contact changes. Nil when the observer
// does not use the solver detection policy.
type SolverControl interface {
	Add(surface, sensor string)
	Remove(name string)
}

type Server struct {
	ctl    Control
	solver SolverControl
}

func NewServer(ctl Control, solver SolverControl) *Server {
	return &Server{ctl: ctl, solver: solver}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/odometry", s.handleOdometry)
	mux.HandleFunc("/api/contacts/sensor", s.setSensorEnabled)
	mux.HandleFunc("/api/contacts/solver", s.queueSolverEvent)
	mux.HandleFunc("/api/fault", s.injectFault)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StatusContact is one active contact in a status response.
type StatusContact struct {
	Name          string     `json:"name"`
	ID            int        `json:"id"`
	SensorEnabled bool       `json:"sensor_enabled"`
	Rest          [3]float64 `json:"rest"`
	Force         [3]float64 `json:"force"`
	Torque        [3]float64 `json:"torque"`
}

// Status is the body of GET /api/status.
type Status struct {
	Tick        int64           `json:"tick"`
	Time        *time.Time      `json:"time,omitempty"`
	State       fusion.State    `json:"state"`
	Odometry    odometry.Mode   `json:"odometry"`
	Position    [3]float64      `json:"position"`
	Orientation [4]float64      `json:"orientation"`
	LinVel      [3]float64      `json:"linvel"`
	AngVel      [3]float64      `json:"angvel"`
	Yaw         float64         `json:"yaw"`
	Contacts    []StatusContact `json:"contacts"`
	Events      []fusion.Event  `json:"events,omitempty"`
}

func statusFromOutput(out fusion.Output, mode odometry.Mode) Status {
	k := out.Kinematics
	q := k.Orientation.Quat()
	st := Status{
		Tick:        out.Tick,
		State:       out.State,
		Odometry:    mode,
		Position:    [3]float64{k.Position.X, k.Position.Y, k.Position.Z},
		Orientation: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		LinVel:      [3]float64{k.LinVel.X, k.LinVel.Y, k.LinVel.Z},
		AngVel:      [3]float64{k.AngVel.X, k.AngVel.Y, k.AngVel.Z},
		Yaw:         out.Yaw,
		Contacts:    make([]StatusContact, 0, len(out.Contacts)),
		Events:      out.Events,
	}
	if st.State == "" {
		st.State = fusion.StateNominal
	}
	if !out.Time.IsZero() {
		t := out.Time
		st.Time = &t
	}
	for _, c := range out.Contacts {
		e := c.Estimate
		st.Contacts = append(st.Contacts, StatusContact{
			Name:          c.Name,
			ID:            c.ID,
			SensorEnabled: c.SensorEnabled,
			Rest:          [3]float64{e.Rest.Position.X, e.Rest.Position.Y, e.Rest.Position.Z},
			Force:         [3]float64{e.Wrench.Force.X, e.Wrench.Force.Y, e.Wrench.Force.Z},
			Torque:        [3]float64{e.Wrench.Torque.X, e.Wrench.Torque.Y, e.Wrench.Torque.Z},
		})
	}
	return st
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSONOK(w, statusFromOutput(s.ctl.Last(), s.ctl.OdometryMode()))
}

type odometryRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleOdometry(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONOK(w, map[string]odometry.Mode{"mode": s.ctl.OdometryMode()})
	case http.MethodPost:
		var req odometryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		mode, err := odometry.ParseMode(req.Mode)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if err := s.ctl.SetOdometryMode(mode); err != nil {
			if errors.Is(err, fusion.ErrOdometrySwitch) {
				writeJSONError(w, http.StatusConflict, err.Error())
				return
			}
			badRequest(w, err.Error())
			return
		}
		writeJSONOK(w, map[string]odometry.Mode{"mode": s.ctl.OdometryMode()})
	default:
		methodNotAllowed(w)
	}
}

type sensorRequest struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled"`
}

func (s *Server) setSensorEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sensorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Enabled == nil {
		badRequest(w, "name and enabled are required")
		return
	}
	if err := s.ctl.SetSensorEnabled(req.Name, *req.Enabled); err != nil {
		if errors.Is(err, contacts.ErrUnknownContact) {
			notFound(w, err.Error())
			return
		}
		badRequest(w, err.Error())
		return
	}
	writeJSONOK(w, map[string]interface{}{"name": req.Name, "enabled": *req.Enabled})
}

type solverRequest struct {
	Kind    string `json:"kind"`
	Surface string `json:"surface"`
	Sensor  string `json:"sensor"`
}

func (s *Server) queueSolverEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.solver == nil {
		writeJSONError(w, http.StatusConflict, "contact detection does not use the solver policy")
		return
	}
	var req solverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Surface == "" {
		badRequest(w, "surface is required")
		return
	}
	switch req.Kind {
	case "add":
		s.solver.Add(req.Surface, req.Sensor)
	case "remove":
		s.solver.Remove(req.Surface)
	default:
		badRequest(w, "kind must be add or remove")
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) injectFault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.ctl.InjectFault()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "fault queued for next cycle"})
}

// maxBodySize bounds operator request bodies.
const maxBodySize = 1 << 16

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
