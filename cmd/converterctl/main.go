// Точка входа converterctl — административной утилиты сервиса конвертации.
package main

import (
	"fmt"
	"os"

	"github.com/bigkaa/svgconv/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
