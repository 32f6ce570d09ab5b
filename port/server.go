package port

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/modern-go/reflect2"

	"github.com/ipfs-force-community/sophon-provider/mediator"
	"github.com/ipfs-force-community/sophon-provider/registry"
	"github.com/ipfs-force-community/sophon-provider/types"
)

var log = logging.Logger("page_port")

// requestFrame is one provider call read off a page port.
type requestFrame struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// responseFrame answers one requestFrame; the result key is always
// present because several methods answer null on success. errorFrame
// replaces it on failure. notificationFrame carries a pushed provider
// event and has no id.
type responseFrame struct {
	ID     uint64      `json:"id"`
	Result interface{} `json:"result"`
}

type errorFrame struct {
	ID    uint64     `json:"id"`
	Error *errorBody `json:"error"`
}

type notificationFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server upgrades page connections to websocket ports, registers a
// provider instance per port and shuttles frames between the page and the
// mediator.
type Server struct {
	reg      registry.IRegistry
	med      *mediator.Mediator
	upgrader websocket.Upgrader
}

func NewServer(reg registry.IRegistry, med *mediator.Mediator) *Server {
	return &Server{
		reg: reg,
		med: med,
		upgrader: websocket.Upgrader{
			// Origin control happens at registration, against the
			// declared page origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func portInfoFromRequest(r *http.Request) (types.ConnectionKind, types.PortInfo) {
	q := r.URL.Query()
	kind := types.ConnPage
	switch q.Get("kind") {
	case "ui":
		kind = types.ConnUI
	case "onboarding":
		kind = types.ConnOnboarding
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = q.Get("origin")
	}
	return kind, types.PortInfo{
		URL:      q.Get("url"),
		Origin:   origin,
		TabID:    parsePortID(q.Get("tab")),
		WindowID: parsePortID(q.Get("window")),
		Site: types.SiteMetadata{
			Name: q.Get("site"),
			Icon: q.Get("icon"),
		},
	}
}

// parsePortID maps an absent or malformed tab/window query value to -1, so
// page-port validation refuses it instead of treating it as id 0.
func parsePortID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, info := portInfoFromRequest(r)
	if info.URL == "" {
		info.URL = info.Origin + "/"
	}

	inst, err := s.reg.Register(kind, info)
	if err != nil {
		log.Warnw("port refused", "origin", info.Origin, "err", err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = s.reg.Unregister(inst.ID)
		log.Errorf("upgrade websocket: %v", err)
		return
	}

	log.Infow("port connected", "origin", info.Origin, "kind", kind.String(), "conn", inst.ID)

	// Gorilla connections allow one concurrent writer; every write goes
	// through writeLk.
	var writeLk sync.Mutex
	write := func(v interface{}) {
		writeLk.Lock()
		defer writeLk.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			log.Debugf("write to %s: %v", info.Origin, err)
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		defer cancel()
		s.pushNotifications(inst, write)
	}()

	s.readLoop(ctx, conn, inst, write)

	cancel()
	_ = s.reg.Unregister(inst.ID)
	_ = conn.Close()
	log.Infow("port closed", "origin", info.Origin, "conn", inst.ID)
}

// pushNotifications drains the instance outbound queue onto the wire. It
// ends when the registry closes the queue on unregister.
func (s *Server) pushNotifications(inst *types.ProviderInstance, write func(interface{})) {
	for n := range inst.Outbound {
		write(notificationFrame{Event: n.Event, Payload: n.Payload})
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, inst *types.ProviderInstance, write func(interface{})) {
	for {
		var frame requestFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("read from %s: %v", inst.Origin, err)
			}
			return
		}
		if frame.Method == "" {
			write(errorFrame{ID: frame.ID, Error: &errorBody{
				Code:    types.ErrInvalidParams.Code,
				Message: "missing method",
			}})
			continue
		}
		// Confirmable methods park for the user; each frame dispatches on
		// its own goroutine so the port stays responsive.
		go func(frame requestFrame) {
			result, err := s.med.Dispatch(ctx, inst.ID, frame.Method, frame.Params)
			if err != nil {
				write(errorFrame{ID: frame.ID, Error: toErrorBody(err)})
				return
			}
			// Typed-nil results must encode as plain null on the wire.
			if reflect2.IsNil(result) {
				result = nil
			}
			write(responseFrame{ID: frame.ID, Result: result})
		}(frame)
	}
}

func toErrorBody(err error) *errorBody {
	var perr *types.Error
	if errors.As(err, &perr) {
		return &errorBody{Code: perr.Code, Message: perr.Message}
	}
	return &errorBody{Code: types.ErrInternal.Code, Message: err.Error()}
}
