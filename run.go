package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"i4.energy/across/modemchat/chat"
	"i4.energy/across/modemchat/chatscript"
)

var runCmd = &cli.Command{
	Name:      "run",
	Usage:     "Run a TOML chat script against the modem",
	ArgsUsage: "<script.toml>",
	Action:    runAction,
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 {
		return cli.Exit("script file path required", 1)
	}
	scriptPath := cmd.Args().Get(0)

	config, logger, err := setup(cmd)
	if err != nil {
		return cli.Exit(err, 1)
	}

	script, err := chatscript.Load(scriptPath, func(argv []string) {
		fmt.Println(formatArgv(argv))
	})
	if err != nil {
		return cli.Exit(err, 1)
	}

	port, err := openPortChat(ctx, config, logger, func(_ *chat.Chat, argv []string, _ any) {
		logger.Debug("Unsolicited line", "line", lineOf(argv))
	})
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to open modem: %w", err), 1)
	}
	defer port.Close()

	logger.Info("Running script", "name", script.Name, "steps", len(script.ScriptChats))
	if err := port.Run(ctx, script); err != nil {
		return cli.Exit(fmt.Errorf("script %s: %w", script.Name, err), 1)
	}

	logger.Info("Script completed", "name", script.Name)
	return nil
}
