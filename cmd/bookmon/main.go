// Package main provides an interactive monitor for a running ingestion
// daemon: it connects to the daemon's market data websocket feed and lets
// an operator inspect the live top-of-book.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type quote struct {
	BestBid   uint32 `json:"BestBid"`
	HasBid    bool   `json:"HasBid"`
	BestOffer uint32 `json:"BestOffer"`
	HasOffer  bool   `json:"HasOffer"`
}

type trade struct {
	Price  uint32 `json:"Price"`
	Volume int64  `json:"Volume"`
}

// monitor tracks the last quote observed on the feed and prints trades as
// they arrive.
type monitor struct {
	mu        sync.Mutex
	lastQuote quote
	haveQuote bool
	lastTrade trade
}

func (m *monitor) handle(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	switch env.Type {
	case "quote":
		var q quote
		if err := json.Unmarshal(env.Payload, &q); err != nil {
			return
		}
		m.mu.Lock()
		m.lastQuote = q
		m.haveQuote = true
		m.mu.Unlock()
	case "trade":
		var t trade
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return
		}
		m.mu.Lock()
		m.lastTrade = t
		m.mu.Unlock()
		fmt.Printf("trade: %d @ %d\n", t.Volume, t.Price)
	}
}

func (m *monitor) best() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveQuote {
		return "no quote received yet"
	}
	bid := "none"
	if m.lastQuote.HasBid {
		bid = strconv.FormatUint(uint64(m.lastQuote.BestBid), 10)
	}
	offer := "none"
	if m.lastQuote.HasOffer {
		offer = strconv.FormatUint(uint64(m.lastQuote.BestOffer), 10)
	}
	return fmt.Sprintf("bid=%s offer=%s", bid, offer)
}

func repl(m *monitor) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("best"),
		readline.PcItem("last"),
		readline.PcItem("quit"),
		readline.PcItem("help"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bookmon> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		log.Fatalf("bookmon: failed to start readline: %v", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}
		switch strings.ToLower(parts[0]) {
		case "best":
			fmt.Println(m.best())
		case "last":
			m.mu.Lock()
			fmt.Printf("last trade: %d @ %d\n", m.lastTrade.Volume, m.lastTrade.Price)
			m.mu.Unlock()
		case "quit", "exit":
			return
		case "help":
			fmt.Println("commands: best, last, quit")
		default:
			fmt.Println("unknown command, type 'help'")
		}
	}
}

func main() {
	addr := flag.String("addr", "localhost:9001", "ingestd market data address (host:port)")
	path := flag.String("path", "/stream", "websocket path")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: *path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("bookmon: failed to connect to %s: %v", u.String(), err)
	}
	defer conn.Close()

	m := &monitor{}
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			m.handle(msg)
		}
	}()

	repl(m)
}
