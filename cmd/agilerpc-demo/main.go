// Command agilerpc-demo starts a registry that either listens for peers or
// connects to one, publishing/calling a small demo echo service. It exists
// to exercise the library end to end (spec.md §6 "CLI surface: none
// (library)" still holds for the library itself); this is a runnable demo,
// following the teacher's ctl/ctl.go and kr/kr.go CLI shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/kryptco/agilerpc/rmi"
)

func printErr(msg string, args ...interface{}) {
	os.Stderr.WriteString(color.RedString(fmt.Sprintf(msg, args...)) + "\n")
}

func printInfo(msg string, args ...interface{}) {
	fmt.Println(color.CyanString(fmt.Sprintf(msg, args...)))
}

// Echo is the demo's published object.
type Echo struct{ calls int }

func (e *Echo) Say(s string) string {
	e.calls++
	return "echo: " + s
}

func (e *Echo) Add(a, b int) int { return a + b }

func (e *Echo) Calls() int { return e.calls }

// Unreferenced logs when the DGC or latency timer actually reaps this
// object, confirming the spec §4.2/§4.5 lifecycle ran.
func (e *Echo) Unreferenced() {
	printInfo("echo service unreferenced and reaped")
}

func serveCommand(c *cli.Context) error {
	addr := c.String("addr")
	reg, err := rmi.New()
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.Publish("echo", &Echo{}); err != nil {
		return err
	}
	bound, err := reg.Listen(addr)
	if err != nil {
		return err
	}
	printInfo("listening on %s, registry id %s", bound, reg.SelfID())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	printInfo("shutting down")
	return nil
}

func callCommand(c *cli.Context) error {
	host := c.String("host")
	port := c.Int("port")
	message := c.Args().First()
	if message == "" {
		message = "hello"
	}

	reg, err := rmi.New()
	if err != nil {
		return err
	}
	defer reg.Close()

	echoStub, err := reg.GetStub(context.Background(), host, port, "echo")
	if err != nil {
		return err
	}

	result, err := echoStub.Call(context.Background(), "Say", message)
	if err != nil {
		return err
	}
	printInfo("Say(%q) -> %v", message, result)

	sum, err := echoStub.Call(context.Background(), "Add", 2, 3)
	if err != nil {
		return err
	}
	printInfo("Add(2, 3) -> %v", sum)

	h, err := echoStub.Hash()
	if err != nil {
		return err
	}
	printInfo("hashCode -> %d", h)
	return nil
}

func main() {
	rmi.SetupLogging(logging.NOTICE)

	app := cli.NewApp()
	app.Name = "agilerpc-demo"
	app.Usage = "demonstrate the agilerpc RMI runtime"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "publish the demo echo service and listen for peers",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: "127.0.0.1:4287"},
			},
			Action: serveCommand,
		},
		{
			Name:  "call",
			Usage: "agilerpc-demo call --host <host> --port <port> [message] -- connect to a peer's echo service",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "host", Value: "127.0.0.1"},
				cli.IntFlag{Name: "port", Value: 4287},
			},
			Action: callCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err.Error())
		os.Exit(1)
	}
}
