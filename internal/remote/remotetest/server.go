package remotetest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/protocol"
	"linkplan.ai/internal/remote"
)

// Server exposes an Authority over the websocket protocol.
type Server struct {
	authority remote.Authority
	upgrader  websocket.Upgrader
}

func NewServer(a remote.Authority) *Server {
	return &Server{
		authority: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		var wg sync.WaitGroup
		defer wg.Wait()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeRequest {
				continue
			}
			var req protocol.Request
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := s.dispatch(r.Context(), req)
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = writeJSON(conn, resp)
			}()
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	resp := protocol.Response{Type: protocol.TypeResponse, ProtocolVersion: protocol.Version, ID: req.ID}
	if req.ProtocolVersion != protocol.Version {
		resp.Code, resp.Message = protocol.ErrProtoBadRequest, "bad protocol_version"
		return resp
	}
	result, err := s.call(ctx, req)
	if err != nil {
		var re *remote.RemoteError
		if errors.As(err, &re) {
			resp.Code, resp.Message = re.Code, re.Message
		} else {
			resp.Code, resp.Message = protocol.ErrBadRequest, err.Error()
		}
		return resp
	}
	b, err := json.Marshal(result)
	if err != nil {
		resp.Code, resp.Message = protocol.ErrInternal, err.Error()
		return resp
	}
	resp.OK = true
	resp.Result = b
	return resp
}

func (s *Server) call(ctx context.Context, req protocol.Request) (any, error) {
	switch req.Op {
	case protocol.OpSubmitPath:
		var a protocol.SubmitPathArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		h, err := s.authority.SubmitPathRequest(ctx, remote.PathRequest{
			Start: a.Start, Finish: a.Finish, Radius: a.Radius,
			AllowThroughOwn: a.AllowThroughOwn, ConnectorSize: a.ConnectorSize,
		})
		return protocol.SubmitPathResult{Handle: int64(h)}, err
	case protocol.OpFetchPath:
		var a protocol.FetchPathArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		out, err := s.authority.FetchPathOutcome(ctx, remote.Handle(a.Handle), remote.FetchRequest{
			Start: a.Start, Finish: a.Finish, Connectors: a.Connectors,
			DryRun: a.DryRun, Available: a.Available,
		})
		if err != nil {
			return nil, err
		}
		res := protocol.FetchPathResult{
			Success: out.Success, Required: out.Required, Available: out.Available, Error: out.Error,
			Entities: make(map[string]json.RawMessage, len(out.Entities)),
		}
		for i, raw := range out.Entities {
			res.Entities[strconv.Itoa(i)] = raw
		}
		return res, nil
	case protocol.OpQueryEntities:
		var a protocol.QueryEntitiesArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		es, err := s.authority.QueryEntities(ctx, a.Point, a.Radius)
		return protocol.EntitiesResult{Entities: es}, err
	case protocol.OpQueryByKind:
		var a protocol.QueryByKindArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		es, err := s.authority.QueryEntitiesByKind(ctx, a.Names, a.Anchor, a.Radius)
		return protocol.EntitiesResult{Entities: es}, err
	case protocol.OpInstallBuffer:
		var a protocol.BufferArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return struct{}{}, s.authority.InstallCollisionBuffer(ctx, a.Start, a.End)
	case protocol.OpClearBuffer:
		return struct{}{}, s.authority.ClearCollisionBuffer(ctx)
	case protocol.OpInventoryCount:
		var a protocol.InventoryArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		n, err := s.authority.InventoryCount(ctx, a.Name)
		return protocol.InventoryResult{Count: n}, err
	case protocol.OpPickup:
		var a protocol.PickupArgs
		if err := json.Unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return struct{}{}, s.authority.Pickup(ctx, entity.Entity{Name: a.Name, Position: a.Position})
	default:
		return nil, &remote.RemoteError{Op: req.Op, Code: protocol.ErrUnknownOp, Message: "unknown op " + strconv.Quote(req.Op)}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
