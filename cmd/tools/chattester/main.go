package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	mode := flag.String("mode", "listen", "mode: listen, send or history")
	host := flag.String("host", "localhost"+cfg.Server.Addr, "relay host:port")
	user := flag.String("user", fmt.Sprintf("User_%d", time.Now().UnixNano()%1000), "display name")
	text := flag.String("text", "", "message text for -mode=send")
	typing := flag.Duration("typing", time.Second, "typing indicator duration before sending")
	duration := flag.Duration("duration", 30*time.Second, "how long to print events")
	flag.Parse()

	switch *mode {
	case "history":
		if err := printHistory(*host); err != nil {
			logrus.Fatalf("history request failed: %v", err)
		}
	case "listen", "send":
		if *mode == "send" && *text == "" {
			flag.Usage()
			logrus.Fatal("-mode=send requires -text")
		}
		ctx, cancel := context.WithTimeout(context.Background(), *duration)
		defer cancel()
		if err := runSession(ctx, *host, *user, *text, *typing); err != nil {
			logrus.Fatalf("session failed: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printHistory(host string) error {
	resp, err := http.Get((&url.URL{Scheme: "http", Host: host, Path: "/api/messages"}).String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var messages []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	for _, msg := range messages {
		printMessage(msg)
	}
	return nil
}

func runSession(ctx context.Context, host, user, text string, typing time.Duration) error {
	endpoint := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint.String(), err)
	}
	defer conn.Close()

	logrus.WithField("user", user).Infof("connected to %s", endpoint.String())

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	if text != "" {
		go func() {
			if err := publish(conn, user, text, typing); err != nil {
				logrus.WithError(err).Error("publish failed")
			}
		}()
	}

	for {
		var frame chat.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printFrame(frame)
	}
}

// publish mimics a browser client: typing on, wait, typing off, send.
// Writes happen on this goroutine only.
func publish(conn *websocket.Conn, user, text string, typing time.Duration) error {
	frames := []struct {
		event string
		data  any
		wait  time.Duration
	}{
		{chat.EventTypingStart, chat.TypingStart{User: user}, typing},
		{chat.EventTypingStop, chat.TypingStop{User: user}, 0},
		{chat.EventSendMessage, chat.SendMessage{User: user, Text: text}, 0},
	}

	for _, f := range frames {
		raw, err := chat.EncodeFrame(f.event, f.data)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return err
		}
		time.Sleep(f.wait)
	}
	return nil
}

func printFrame(frame chat.Frame) {
	switch frame.Event {
	case chat.EventInitialMessages:
		var messages []chat.Message
		if err := json.Unmarshal(frame.Data, &messages); err != nil {
			logrus.WithError(err).Warn("bad initial_messages payload")
			return
		}
		for _, msg := range messages {
			printMessage(msg)
		}
	case chat.EventNewMessage:
		var msg chat.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			logrus.WithError(err).Warn("bad new_message payload")
			return
		}
		printMessage(msg)
	case chat.EventUserTyping:
		var t chat.Typing
		if err := json.Unmarshal(frame.Data, &t); err != nil {
			logrus.WithError(err).Warn("bad user_typing payload")
			return
		}
		if t.Typing {
			fmt.Printf("  %s is typing...\n", t.User)
		} else {
			fmt.Printf("  %s stopped typing\n", t.User)
		}
	default:
		fmt.Printf("  [%s] %s\n", frame.Event, frame.Data)
	}
}

func printMessage(msg chat.Message) {
	fmt.Printf("#%d %s %s: %s\n", msg.ID, msg.Timestamp.Local().Format("15:04:05"), msg.User, msg.Text)
}
