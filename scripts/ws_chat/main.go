// Interactive terminal client for a running gateway. Lines typed on
// stdin are sent to the chosen conversation; incoming messages, typing
// indicators, and presence updates are printed as they arrive.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lumachat/gateway/internal/auth"
	"github.com/lumachat/gateway/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	secret := flag.String("secret", "", "JWT secret shared with the gateway")
	userID := flag.String("user", "cli-user", "user id")
	userName := flag.String("name", "", "display name (defaults to user id)")
	conversation := flag.String("conversation", "", "conversation id to join")
	flag.Parse()

	if *secret == "" || *conversation == "" {
		return fmt.Errorf("-secret and -conversation are required")
	}
	if *userName == "" {
		*userName = *userID
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := auth.GenerateToken(auth.Config{
		Secret:   []byte(*secret),
		Issuer:   "lumachat",
		Audience: "lumachat-gateway",
	}, *userID, *userName, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("marshal %s: %v", event, err)
			return
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event, Data: data}); err != nil {
			cancel()
			log.Printf("send %s: %v", event, err)
		}
	}

	send(proto.InAuthenticate, proto.AuthenticateData{Token: token, DeviceID: "cli"})
	send(proto.InJoinConversations, proto.ConversationsData{ConversationIDs: []string{*conversation}})

	fmt.Printf("Connected to %s as %s in conversation %s\n", *addr, *userID, *conversation)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *conversation)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if f.Error != nil {
			fmt.Printf("!! %s: %s (%s)\n", f.Event, f.Error.Msg, f.Error.Code)
			continue
		}

		switch f.Event {
		case proto.OutNewMessage:
			var msg proto.NewMessageData
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("unmarshal %s: %v", f.Event, err)
				continue
			}
			prefix := ""
			if msg.Queued {
				prefix = "(queued) "
			}
			fmt.Printf("%s%s: %s\n", prefix, msg.SenderName, msg.Content)
		case proto.OutUserTyping:
			var typing proto.TypingData
			if err := json.Unmarshal(f.Data, &typing); err != nil {
				log.Printf("unmarshal %s: %v", f.Event, err)
				continue
			}
			if typing.IsTyping {
				fmt.Printf("... %s is typing\n", typing.UserName)
			}
		case proto.OutContactPresence:
			var presence proto.PresenceData
			if err := json.Unmarshal(f.Data, &presence); err != nil {
				log.Printf("unmarshal %s: %v", f.Event, err)
				continue
			}
			fmt.Printf("** %s is now %s\n", presence.UserID, presence.Status)
		case proto.OutAuthenticated, proto.OutMessageReceived,
			proto.OutDeliveryUpdate, proto.OutConversationUpdated:
			// routine acks, keep the terminal quiet
		default:
			fmt.Printf("event=%s data=%s\n", f.Event, f.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, conversation string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			seq++
			payload, err := json.Marshal(proto.SendMessageData{
				LocalID:        fmt.Sprintf("cli-%d", seq),
				ConversationID: conversation,
				Content:        text,
			})
			if err != nil {
				log.Printf("marshal send_message: %v", err)
				return
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Event: proto.InSendMessage, Data: payload}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
