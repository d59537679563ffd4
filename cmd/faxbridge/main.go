// Package main точка входа faxbridge.
//
// Использование:
//
//	faxbridge serve --config /etc/faxbridge.yaml
//	faxbridge run --local 0.0.0.0:4000 --remote 192.0.2.10:4000 --args "/tmp/doc.tif|caller"
//	faxbridge version
//
// Коды выхода run:
//   - 0: документ передан
//   - 1: передача не удалась
//   - 2: сессия прервана (отбой, неверный аргумент, ошибка канала или движка)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Заполняются через ldflags при сборке
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:           "faxbridge",
		Usage:          "Мост SIP/RTP вызовов к движку передачи факсов",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler сохраняет коды выхода из cli.Exit
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N) печатает "exit status N", такое не выводим
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
	os.Exit(1)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Показать версию",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "faxbridge %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
