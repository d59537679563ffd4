package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/bridge"
	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/config"
	"github.com/arzzra/faxbridge/pkg/engine"
	"github.com/arzzra/faxbridge/pkg/faxopts"
	"github.com/arzzra/faxbridge/pkg/logging"
	"github.com/arzzra/faxbridge/pkg/rtpchan"
)

// Коды выхода run
const (
	exitSuccess = 0
	exitFailed  = 1
	exitAborted = 2
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Выполнить одну сессию факса на RTP потоке без SIP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "args",
				Usage:    argsUsage(),
				Required: true,
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Направление: send или receive",
				Value: config.DirectionSend,
			},
			&cli.StringFlag{
				Name:  "local",
				Usage: "Локальный RTP адрес host:port",
				Value: "0.0.0.0:0",
			},
			&cli.StringFlag{
				Name:  "remote",
				Usage: "RTP адрес удаленной стороны (пусто - из первого пакета)",
			},
			&cli.UintFlag{
				Name:  "payload-type",
				Usage: "Payload type G.711: 0 (PCMU) или 8 (PCMA)",
				Value: uint(rtpchan.PayloadTypePCMU),
			},
			&cli.StringFlag{
				Name:  "local-ident",
				Usage: "Идентификатор локальной станции (LOCALSTATIONID)",
			},
			&cli.StringFlag{
				Name:  "header-info",
				Usage: "Текст заголовка страницы (LOCALHEADERINFO)",
			},
			&cli.StringFlag{
				Name:     "engine-command",
				Usage:    "Исполняемый файл внешнего движка",
				EnvVars:  []string{"FAXBRIDGE_ENGINE_COMMAND"},
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "engine-arg",
				Usage: "Аргумент внешнего движка (можно повторять)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Уровень логирования",
				Value: config.DefaultLogLevel,
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	logger, err := logging.New(c.String("log-level"), logging.FormatConsole)
	if err != nil {
		return cli.Exit(err.Error(), exitAborted)
	}
	defer func() { _ = logger.Sync() }()

	var direction engine.Direction
	switch c.String("direction") {
	case config.DirectionSend:
		direction = engine.DirectionSend
	case config.DirectionReceive:
		direction = engine.DirectionReceive
	default:
		return cli.Exit(fmt.Sprintf("неизвестное направление %q", c.String("direction")), exitAborted)
	}

	factory, err := engineFactory(config.EngineConfig{
		Name:    config.DefaultEngine,
		Command: c.String("engine-command"),
		Args:    c.StringSlice("engine-arg"),
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitAborted)
	}

	id := uuid.NewString()
	ch, err := rtpchan.New(rtpchan.Config{
		Name:        "RTP/" + id[:8],
		LocalAddr:   c.String("local"),
		RemoteAddr:  c.String("remote"),
		PayloadType: uint8(c.Uint("payload-type")),
		DSCP:        config.DefaultDSCP,
	}, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitAborted)
	}
	defer func() { _ = ch.Close() }()

	if v := c.String("local-ident"); v != "" {
		ch.SetVar(channel.VarLocalStationID, v)
	}
	if v := c.String("header-info"); v != "" {
		ch.SetVar(channel.VarLocalHeaderInfo, v)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("RTP канал открыт",
		zap.Stringer("local", ch.LocalAddr()),
		zap.Stringer("codec", ch.NativeFormat()))

	session := bridge.New(bridge.Config{
		SessionID: id,
		Direction: direction,
		Factory:   factory,
		Logger:    logger,
	})
	res := session.Run(ctx, ch, c.String("args"))

	fmt.Fprintf(c.App.Writer, "%s=%s\n", resultVarName(direction), ch.Var(resultVarName(direction)))
	if peer := ch.Var(channel.VarRemoteStationID); peer != "" {
		fmt.Fprintf(c.App.Writer, "%s=%s\n", channel.VarRemoteStationID, peer)
	}

	return cli.Exit("", exitCode(res))
}

// argsUsage описывает формат --args по списку распознаваемых флагов
func argsUsage() string {
	var b strings.Builder
	b.WriteString("Аргументы сессии: <file>")
	for _, f := range faxopts.Flags() {
		b.WriteString("[" + faxopts.Delimiter + string(f) + "]")
	}
	return b.String()
}

func resultVarName(d engine.Direction) string {
	if d == engine.DirectionReceive {
		return channel.VarRxFaxResult
	}
	return channel.VarTxFaxResult
}

func exitCode(res bridge.Result) int {
	switch {
	case res.Code != bridge.ResultCodeOK:
		return exitAborted
	case res.Outcome == bridge.OutcomeSuccess:
		return exitSuccess
	default:
		return exitFailed
	}
}
