// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Command quetzal is a minimal terminal client used to exercise the
// library end to end: it connects an account described in a TOML file,
// prints inbound messages and roster changes, and sends whatever is typed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"quetzal.im/xmpp"
	"quetzal.im/xmpp/jid"
	"quetzal.im/xmpp/roster"
	"quetzal.im/xmpp/stanza"
)

type accountConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Resource string `toml:"resource"`

	TrustServer bool `toml:"trust_server"`
	AllowPlain  bool `toml:"allow_plain"`

	Debug bool `toml:"debug"`
}

func main() {
	configPath := flag.String("config", "quetzal.toml", "path to the account config")
	assured := flag.Bool("assured", false, "send messages with assured delivery")
	flag.Parse()

	var account accountConfig
	if _, err := toml.DecodeFile(*configPath, &account); err != nil {
		log.Fatalf("loading %s: %v", *configPath, err)
	}

	logger := log.New(os.Stderr, "", log.Ltime)

	config := xmpp.Config{
		Host:           account.Host,
		Port:           account.Port,
		User:           account.User,
		Password:       account.Password,
		Resource:       account.Resource,
		TrustServer:    account.TrustServer,
		AllowPlain:     account.AllowPlain,
		AllowScramSHA1: true,
		SoftwareName:   "quetzal",
		Handlers: xmpp.EventHandlers{
			StateChanged: func(old, new xmpp.State) {
				logger.Printf("state: %v -> %v", old, new)
			},
			ConnectionError: func(err error) {
				logger.Printf("connection error: %v", err)
			},
			ChatMessage: func(m stanza.Message) {
				fmt.Printf("%s: %s\n", m.From, m.Body())
			},
			NormalMessage: func(m stanza.Message) {
				fmt.Printf("%s: %s\n", m.From, m.Body())
			},
			RosterItemAdded: func(item roster.Item) {
				logger.Printf("roster add: %s", item.JID)
			},
			RosterItemRemoved: func(addr jid.JID) {
				logger.Printf("roster remove: %s", addr)
			},
		},
	}
	if account.Debug {
		config.Sniffer = xmpp.WriterSniffer{W: os.Stderr}
	}

	session, err := xmpp.New(config)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = session.Connect(ctx)
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer session.Dispose()

	fmt.Println("connected; send with `user@host message`, quit with /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		target, body, ok := strings.Cut(line, " ")
		if !ok {
			fmt.Println("usage: user@host message")
			continue
		}
		to, err := jid.Parse(target)
		if err != nil {
			fmt.Printf("bad address %q: %v\n", target, err)
			continue
		}
		if *assured {
			inner := "<body>" + body + "</body>"
			err = session.SendMessageQoS(to, stanza.ChatMessage, inner, xmpp.Assured, func(ok bool) {
				if ok {
					logger.Printf("delivered to %s", to)
				} else {
					logger.Printf("delivery to %s failed", to)
				}
			})
		} else {
			err = session.SendMessage(to, stanza.ChatMessage, body)
		}
		if err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	}
}
