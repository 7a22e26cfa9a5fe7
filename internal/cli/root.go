// Пакет cli — административная утилита converterctl (cobra).
// Работает с тем же хранилищем записей и каталогом данных, что и сервис,
// конфигурация берётся из тех же переменных окружения CV_*.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/bigkaa/svgconv/internal/config"
	"github.com/bigkaa/svgconv/internal/converter"
)

// RootOptions — глобальные флаги всех команд.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"

	// Converter подменяет внешнюю команду конвертации (для тестов).
	Converter converter.Converter
}

// ValidFormats — допустимые форматы вывода.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand создаёт корневую команду converterctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "converterctl",
		Short:   "Администрирование сервиса конвертации SVG → PDF",
		Long:    "Утилита обслуживания сервиса конвертации: миграции, загрузка и просмотр файлов, объединение PDF, очистка.",
		Version: config.Version,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("недопустимый формат %q, допустимые: %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "подробный вывод (логи в stderr)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "формат вывода (text|json|yaml)")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newIngestCommand(opts),
		newGetCommand(opts),
		newListCommand(opts),
		newOrderCommand(opts),
		newStatsCommand(opts),
		newSweepCommand(opts),
		newJanitorCommand(opts),
		newMergeCommand(opts),
	)
	return cmd
}
