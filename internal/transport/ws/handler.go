package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/collab"
	"github.com/lumachat/gateway/internal/gateway"
	"github.com/lumachat/gateway/internal/proto"
	"github.com/lumachat/gateway/internal/utils"
)

// errGoingAway is returned by the write loop when the gateway core asks
// the session to end during shutdown.
var errGoingAway = errors.New("server shutting down")

// Handler upgrades HTTP connections and bridges them to the gateway
// core. The first frame must be an authenticate event; everything else
// before it closes the socket.
type Handler struct {
	gw           *gateway.Gateway
	verifier     collab.TokenVerifier
	authDeadline time.Duration
	log          *zerolog.Logger
}

func (h *Handler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := gateway.NewClient(utils.NewID())

	identity, device, err := h.handshake(ctx, conn, client)
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	h.gw.Connect(ctx, client, identity, device)
	defer h.gw.Disconnect(context.WithoutCancel(ctx), client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errGoingAway) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake reads the mandatory authenticate frame, verifies the token,
// and confirms with an authenticated event. It must complete within the
// auth deadline.
func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn, client *gateway.Client) (*collab.Identity, gateway.DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, h.authDeadline)
	defer cancel()

	var in proto.Inbound
	if err := wsjson.Read(ctx, conn, &in); err != nil {
		return nil, gateway.DeviceInfo{}, err
	}
	if in.Event != proto.InAuthenticate {
		return nil, gateway.DeviceInfo{}, errors.New("first frame is not authenticate")
	}

	var data proto.AuthenticateData
	if err := json.Unmarshal(in.Data, &data); err != nil {
		return nil, gateway.DeviceInfo{}, err
	}

	identity, err := h.verifier.Verify(ctx, data.Token)
	if err != nil {
		return nil, gateway.DeviceInfo{}, err
	}

	device := gateway.DeviceInfo{
		DeviceID:   data.DeviceID,
		DeviceType: data.DeviceType,
		Platform:   data.Platform,
	}
	if device.DeviceID == "" {
		device.DeviceID = client.ID
	}

	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Event: proto.OutAuthenticated,
		Data: proto.AuthenticatedData{
			UserID:   identity.UserID,
			UserName: identity.UserName,
			ConnID:   client.ID,
		},
	}); err != nil {
		return nil, gateway.DeviceInfo{}, err
	}

	return identity, device, nil
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, client *gateway.Client) error {
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}
		h.gw.Dispatch(ctx, client, &in)
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, client *gateway.Client) error {
	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return errGoingAway
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
