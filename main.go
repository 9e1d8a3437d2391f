package main

import (
	"bufio"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/message"
	"github.com/Meander-Cloud/go-netevent/net/protocol"
	"github.com/Meander-Cloud/go-netevent/net/tcp"
	"github.com/Meander-Cloud/go-netevent/registry"
	"github.com/Meander-Cloud/go-netevent/request"
	"github.com/Meander-Cloud/go-netevent/tick"
)

const (
	defaultAddress string = "localhost:8911"
)

type UserChatMessage struct {
	Message string `msgpack:"message" json:"message"`
}

func (UserChatMessage) MessageName() string {
	return "chat.UserChatMessage"
}

type NewChatMessage struct {
	Name    string `msgpack:"name" json:"name"`
	Message string `msgpack:"message" json:"message"`
}

func (NewChatMessage) MessageName() string {
	return "chat.NewChatMessage"
}

type WhoQuery struct{}

func (WhoQuery) MessageName() string {
	return "chat.WhoQuery"
}

type WhoReply struct {
	Online []uint64 `msgpack:"online" json:"online"`
}

func (WhoReply) MessageName() string {
	return "chat.WhoReply"
}

func loadConfig(logPrefix string) *config.Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("%s: no .env file loaded, using environment only", logPrefix)
	}

	c, err := config.FromEnv(config.EnvPrefix)
	if err != nil {
		panic(err)
	}
	if c.LogPrefix == "" {
		c.LogPrefix = logPrefix
	}
	return c
}

func waitSignal(logPrefix string) {
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigch // wait
	log.Printf("%s: received signal %s, exiting", logPrefix, sig.String())
}

func logNetworkEvents(logPrefix string, evs []message.NetworkEvent) {
	for _, ev := range evs {
		log.Printf("%s: %s", logPrefix, ev.String())
	}
}

func runServer() {
	c := loadConfig("server")
	if c.ListenAddress == "" {
		c.ListenAddress = defaultAddress
	}

	r, err := registry.New(c)
	if err != nil {
		panic(err)
	}

	responder, err := request.RegisterResponder[WhoQuery, WhoReply](r)
	if err != nil {
		panic(err)
	}

	var server *protocol.Server
	err = registry.Handle(r, func(d message.Data[UserChatMessage]) {
		// invoked on tick goroutine
		log.Printf("%s: %s: %s", c.LogPrefix, d.Origin, d.Value.Message)
		server.Broadcast(
			&NewChatMessage{
				Name:    d.Origin.String(),
				Message: d.Value.Message,
			},
		)
	})
	if err != nil {
		panic(err)
	}

	server, err = protocol.Listen(c, r, tcp.NewProvider(c))
	if err != nil {
		panic(err)
	}

	loop := tick.New(
		&tick.Options{
			Rate:      c.TickRate,
			LogPrefix: c.LogPrefix,
			LogDebug:  c.LogDebug,
		},
	)
	loop.Start(func(uint64) {
		// invoked on tick goroutine
		for _, ev := range server.NetworkEvents() {
			log.Printf("%s: %s", c.LogPrefix, ev.String())

			if ev.Kind == message.EventConnected {
				server.BroadcastExcept(
					ev.ConnID,
					&NewChatMessage{
						Name:    "server",
						Message: ev.ConnID.String() + " joined",
					},
				)
			}
		}

		r.Dispatch()

		for _, in := range responder.Drain() {
			online := make([]uint64, 0, server.Count())
			for _, id := range server.Connections() {
				online = append(online, uint64(id))
			}
			in.Respond(server, WhoReply{Online: online})
		}
	})

	waitSignal(c.LogPrefix)

	loop.Shutdown()
	server.Shutdown()
	logNetworkEvents(c.LogPrefix, server.NetworkEvents())
}

func runClient() {
	c := loadConfig("client")
	if c.ConnectAddress == "" {
		c.ConnectAddress = defaultAddress
	}

	r, err := registry.New(c)
	if err != nil {
		panic(err)
	}

	err = registry.Handle(r, func(d message.Data[NewChatMessage]) {
		// invoked on tick goroutine
		log.Printf("%s: <%s> %s", c.LogPrefix, d.Value.Name, d.Value.Message)
	})
	if err != nil {
		panic(err)
	}

	requester, err := request.RegisterRequester[WhoQuery, WhoReply](r, time.Second*5)
	if err != nil {
		panic(err)
	}

	client, err := protocol.Connect(c, r, tcp.NewProvider(c))
	if err != nil {
		panic(err)
	}

	loop := tick.New(
		&tick.Options{
			Rate:      c.TickRate,
			LogPrefix: c.LogPrefix,
			LogDebug:  c.LogDebug,
		},
	)

	var who []*request.Pending[WhoReply]
	loop.Start(func(uint64) {
		// invoked on tick goroutine
		for _, ev := range client.NetworkEvents() {
			log.Printf("%s: %s", c.LogPrefix, ev.String())
			if ev.Kind == message.EventDisconnected {
				requester.Abandon(ev.ConnID)
			}
		}

		r.Dispatch()
		requester.Poll()

		remaining := who[:0]
		for _, p := range who {
			if !p.Done() {
				remaining = append(remaining, p)
				continue
			}
			if reply, ok := p.TryRecv(); ok {
				log.Printf("%s: online=%v", c.LogPrefix, reply.Online)
			} else {
				log.Printf("%s: who failed, err=%v", c.LogPrefix, p.Err())
			}
		}
		who = remaining
	})

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			loop.Dispatch(func() {
				// invoked on tick goroutine
				if line == "/who" {
					p, err := requester.Send(client, client.ID(), WhoQuery{})
					if err != nil {
						log.Printf("%s: who failed, err=%s", c.LogPrefix, err.Error())
						return
					}
					who = append(who, p)
					return
				}

				err := client.Send(&UserChatMessage{Message: line})
				if err != nil {
					log.Printf("%s: send failed, err=%s", c.LogPrefix, err.Error())
				}
			})
		}
	}()

	waitSignal(c.LogPrefix)

	loop.Shutdown()
	client.Shutdown()
	logNetworkEvents(c.LogPrefix, client.NetworkEvents())
}

func main() {
	// enable microsecond and file line logging
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if len(os.Args) <= 1 {
		log.Printf("main: must specify server or client")
		return
	}

	switch os.Args[1] {
	case "server":
		runServer()
	case "client":
		runClient()
	default:
		log.Printf("main: must specify server or client")
	}
}
