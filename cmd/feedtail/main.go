// Command feedtail connects to the service websocket and prints every change
// event it relays, one JSON line per event.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
}

func main() {
	addr := flag.String("addr", "ws://localhost:3000/ws", "websocket endpoint")
	token := flag.String("token", os.Getenv("FALTAS_TOKEN"), "identity token (defaults to $FALTAS_TOKEN)")
	tables := flag.String("tables", "", "comma separated tables to print (empty prints all)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	endpoint, err := dialURL(*addr, *token)
	if err != nil {
		logrus.WithError(err).Fatal("invalid address")
	}

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		logrus.WithError(err).Fatal("dial failed")
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	wanted := tableSet(*tables)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					logrus.WithError(err).Warn("read failed")
				}
				return
			}
			if line, ok := render(message, wanted); ok {
				fmt.Println(line)
			}
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			logrus.WithError(err).Warn("close failed")
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func dialURL(addr, token string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func tableSet(csv string) map[string]bool {
	set := map[string]bool{}
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	return set
}

// render formats a change event. Other message types pass through unchanged.
func render(message []byte, wanted map[string]bool) (string, bool) {
	var ev event
	if err := json.Unmarshal(message, &ev); err != nil || ev.Type != "change" {
		return string(message), len(wanted) == 0
	}
	var c change
	if err := json.Unmarshal(ev.Data, &c); err != nil {
		return string(message), len(wanted) == 0
	}
	if len(wanted) > 0 && !wanted[c.Table] {
		return "", false
	}
	return fmt.Sprintf("%s %-11s %-7s %s", c.At.Format(time.RFC3339), c.Table, c.Op, c.ID), true
}
