// Smoke test for a running gateway: authenticate, join a conversation,
// send one message, and verify the processed acknowledgment comes back.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lumachat/gateway/internal/auth"
	"github.com/lumachat/gateway/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	secret := flag.String("secret", "", "JWT secret shared with the gateway")
	userID := flag.String("user", "smoke-tester", "user id to authenticate as")
	conversation := flag.String("conversation", "", "conversation id to message")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *secret == "" || *conversation == "" {
		return fmt.Errorf("-secret and -conversation are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := auth.GenerateToken(auth.Config{
		Secret:   []byte(*secret),
		Issuer:   "lumachat",
		Audience: "lumachat-gateway",
	}, *userID, *userID, *timeout)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", event, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event, Data: data}); err != nil {
			return fmt.Errorf("send %s: %w", event, err)
		}
		return nil
	}

	waitFor := func(event string) (json.RawMessage, error) {
		for {
			var f struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
				Error *proto.Error    `json:"error"`
			}
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return nil, fmt.Errorf("read waiting for %s: %w", event, err)
			}
			if f.Error != nil {
				return nil, fmt.Errorf("gateway error on %s: %s (%s)", f.Event, f.Error.Msg, f.Error.Code)
			}
			if f.Event == event {
				return f.Data, nil
			}
		}
	}

	if err := send(proto.InAuthenticate, proto.AuthenticateData{Token: token, DeviceID: "smoke"}); err != nil {
		return err
	}
	if _, err := waitFor(proto.OutAuthenticated); err != nil {
		return err
	}
	fmt.Printf("authenticated as %s\n", *userID)

	if err := send(proto.InJoinConversations, proto.ConversationsData{ConversationIDs: []string{*conversation}}); err != nil {
		return err
	}

	if err := send(proto.InSendMessage, proto.SendMessageData{
		LocalID:        "smoke-1",
		ConversationID: *conversation,
		Content:        *text,
	}); err != nil {
		return err
	}

	for {
		data, err := waitFor(proto.OutMessageReceived)
		if err != nil {
			return err
		}
		var ack proto.MessageReceivedData
		if err := json.Unmarshal(data, &ack); err != nil {
			return fmt.Errorf("decode ack: %w", err)
		}
		if ack.Status == "processed" {
			fmt.Printf("message accepted, server id %s\n", ack.ServerID)
			return nil
		}
	}
}
