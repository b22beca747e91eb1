// Command manualctl is a line-oriented operator console: it tokenizes
// shell-style commands and publishes them as requests on the shared bus,
// standing in for the "GUI running each external call on a one-shot
// worker task" spec.md §5 describes for manual actions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"pressurecal/busx"
	"pressurecal/model"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	bus := busx.NewBus(16)
	conn := bus.NewConnection("manualctl")

	overrides := conn.Subscribe(busx.StabilityOverride())
	go func() {
		for msg := range overrides.Channel() {
			fmt.Printf("stability override requested: %+v\n", msg.Payload)
			fmt.Print("accept? [y/N]: ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			conn.Reply(msg, answer == "y\n" || answer == "Y\n", false)
		}
	}()

	faults := conn.Subscribe(busx.Fault())
	go func() {
		for msg := range faults.Channel() {
			log.Warn().Interface("fault", msg.Payload).Msg("fault signal received")
		}
	}()

	fmt.Println("manualctl ready. commands: setpressure <torr>, setoutlet <pct>, estop, resume, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields, err := shlex.Split(scanner.Text())
		if err != nil || len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return
		case "setpressure":
			if len(fields) != 2 {
				fmt.Println("usage: setpressure <torr>")
				continue
			}
			sp, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Println("not a number:", fields[1])
				continue
			}
			dispatch(conn, "set_pressure", sp)
		case "setoutlet":
			if len(fields) != 2 {
				fmt.Println("usage: setoutlet <pct>")
				continue
			}
			pct, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Println("not a number:", fields[1])
				continue
			}
			dispatch(conn, "set_outlet_position", pct)
		case "estop":
			dispatch(conn, "estop", 0)
		case "resume":
			dispatch(conn, "resume", 0)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func dispatch(conn *busx.Connection, action string, arg float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := conn.RequestWait(ctx, conn.NewMessage(busx.ManualCommand(), model.ManualCommand{Action: action, Arg: arg}, false))
	if err != nil {
		fmt.Println("no response:", err)
		return
	}
	if code, ok := reply.Payload.(model.Option[string]); ok {
		if v, valid := code.Get(); valid {
			fmt.Println("rejected:", v)
			return
		}
	}
	fmt.Println("ok")
}
