package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/urfave/cli/v3"

	"i4.energy/across/modemchat/at"
	"i4.energy/across/modemchat/chat"
	"i4.energy/across/modemchat/chatscript"
	"i4.energy/across/modemchat/modem"
)

var consoleCmd = &cli.Command{
	Name:  "console",
	Usage: "Interactive AT command console",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "Seconds to wait for the final result of a command",
			Value: 10,
		},
	},
	Action: consoleAction,
}

// console sends each line typed into the shell as a one step chat script.
type console struct {
	shell   *ishell.Shell
	port    *portChat
	ctx     context.Context
	timeout time.Duration
}

func consoleAction(ctx context.Context, cmd *cli.Command) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return cli.Exit(err, 1)
	}

	con := &console{
		shell:   ishell.New(),
		ctx:     ctx,
		timeout: time.Duration(cmd.Int("timeout")) * time.Second,
	}

	con.port, err = openPortChat(ctx, config, logger, func(_ *chat.Chat, argv []string, _ any) {
		con.print(lineOf(argv))
	})
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to open modem: %w", err), 1)
	}
	defer con.port.Close()

	con.shell.SetPrompt(config.SerialPort + " > ")
	con.shell.AddCmd(&ishell.Cmd{
		Name: "ports",
		Help: "list serial ports",
		Func: con.listPorts,
	})
	con.shell.AddCmd(&ishell.Cmd{
		Name: "script",
		Help: "run a TOML chat script",
		Func: con.runScript,
	})
	con.shell.NotFound(con.exec)

	go func() {
		<-ctx.Done()
		con.shell.Close()
	}()

	con.shell.Println("Type AT commands, 'help' for console commands, 'exit' to quit.")
	con.shell.Run()
	return nil
}

// print shows a received line tagged with its response type.
func (con *console) print(line string) {
	con.shell.Println(fmt.Sprintf("[%s] %s", at.Classify(line), line))
}

func (con *console) exec(c *ishell.Context) {
	line := strings.Join(c.RawArgs, " ")
	script, err := commandScript(line, con.timeout, func(_ *chat.Chat, argv []string, _ any) {
		con.print(lineOf(argv))
	})
	if err != nil {
		c.Err(err)
		return
	}

	if err := con.port.Run(con.ctx, script); err != nil {
		if errors.Is(err, chat.ErrScriptFailed) {
			c.Println(err.Error())
			return
		}
		c.Err(err)
	}
}

func (con *console) listPorts(c *ishell.Context) {
	ports, err := modem.Ports()
	if err != nil {
		c.Err(err)
		return
	}
	if len(ports) == 0 {
		c.Println("no serial ports found")
		return
	}
	for _, p := range ports {
		c.Println(p)
	}
}

func (con *console) runScript(c *ishell.Context) {
	if len(c.Args) < 1 {
		c.Err(fmt.Errorf("script file path required"))
		return
	}

	script, err := chatscript.Load(c.Args[0], func(argv []string) {
		c.Println(formatArgv(argv))
	})
	if err != nil {
		c.Err(err)
		return
	}

	if err := con.port.Run(con.ctx, script); err != nil {
		c.Err(err)
		return
	}
	c.Println(script.Name, "completed")
}
