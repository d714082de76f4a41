// A line-mode terminal client for poking at a running relay: joins under a
// display name, prints room traffic, and renders the user list as a table.
// The graphical client speaks the same envelopes; this tool exists for
// manual testing and demos.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"chat-relay/domain"
	"chat-relay/wire"
)

type Config struct {
	ServerAddr string `envconfig:"SERVER_ADDR" default:"localhost:8080"`
	Name       string `envconfig:"CHAT_NAME" default:"tester"`
	// CHAT_COLOURS enables colorized output for better readability
	Colours bool `envconfig:"CHAT_COLOURS" default:"true"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		log.Fatalf("Cannot reach relay at %s: %v", cfg.ServerAddr, err)
	}
	defer conn.Close()

	if err := send(conn, domain.Envelope{Type: domain.KindJoin, From: cfg.Name}); err != nil {
		log.Fatalf("Join failed: %v", err)
	}
	fmt.Printf("Connected to %s as %q. Type to chat, /pm <uid> <text> for private, /quit to leave.\n",
		cfg.ServerAddr, cfg.Name)

	go receive(conn, cfg.Colours)

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			_ = send(conn, domain.Envelope{Type: domain.KindLeave})
			return
		case strings.HasPrefix(line, "/pm "):
			rest := strings.SplitN(strings.TrimPrefix(line, "/pm "), " ", 2)
			if len(rest) != 2 {
				fmt.Println("usage: /pm <uid> <text>")
				continue
			}
			if err := send(conn, domain.Envelope{Type: domain.KindPrivateMsg, To: rest[0], Text: rest[1]}); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		default:
			if err := send(conn, domain.Envelope{Type: domain.KindMsg, Text: line}); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		}
	}
}

func send(conn net.Conn, env domain.Envelope) error {
	frame, err := wire.Encode(env)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// receive prints every inbound envelope until the relay closes the stream.
func receive(conn net.Conn, colours bool) {
	framer := wire.NewFramer(conn, 0)
	for {
		line, err := framer.Next()
		if err != nil {
			fmt.Println("-- connection closed --")
			os.Exit(0)
		}
		env, err := wire.Decode(line)
		if err != nil {
			continue
		}
		display(env, colours)
	}
}

func display(env domain.Envelope, colours bool) {
	switch env.Type {
	case domain.KindSystem:
		if colours {
			color.Yellow.Printf("* %s\n", env.Text)
		} else {
			fmt.Printf("* %s\n", env.Text)
		}
	case domain.KindUserList:
		renderUserList(env.Text)
	case domain.KindPrivateMsg:
		if colours {
			color.Magenta.Printf("[pm] %s: %s\n", env.From, env.Text)
		} else {
			fmt.Printf("[pm] %s: %s\n", env.From, env.Text)
		}
	case domain.KindMsg:
		if colours {
			color.Green.Printf("%s: ", env.From)
			fmt.Println(env.Text)
		} else {
			fmt.Printf("%s: %s\n", env.From, env.Text)
		}
	case domain.KindStartTyping:
		fmt.Printf("... %s is typing\n", env.From)
	case domain.KindStopTyping:
		// quiet
	}
}

// renderUserList accepts both presence payload shapes the relay can be
// configured to publish.
func renderUserList(payload string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"UID", "Name"})

	var byUID map[string]string
	if err := json.Unmarshal([]byte(payload), &byUID); err == nil {
		for uid, name := range byUID {
			table.Append([]string{uid, name})
		}
		table.Render()
		return
	}

	var names []string
	if err := json.Unmarshal([]byte(payload), &names); err == nil {
		for _, name := range names {
			table.Append([]string{"", name})
		}
		table.Render()
	}
}
