package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/svgconv/internal/service"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Применить миграции хранилища записей",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// openApp применяет миграции при каждом запуске
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				res := map[string]string{"driver": a.cfg.DBDriver, "status": "ok"}
				return output(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
					fmt.Fprintf(w, "Миграции применены (%s)\n", a.cfg.DBDriver)
				})
			})
		},
	}
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Перевести зависшие конвертации в failed",
		Long: `Переводит в failed записи, находящиеся в converting дольше CV_SWEEPER_GRACE.
Используется, если сервис был остановлен посреди конвертации.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				sweeper := service.NewSweeperService(a.files, a.cfg.SweeperInterval, a.cfg.SweeperGrace, a.logger)
				res, err := sweeper.RunOnce(cmd.Context())
				if err != nil {
					return serviceExit("ошибка sweeper", err)
				}
				return output(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
					fmt.Fprintf(w, "Переведено в failed: %d\n", res.Failed)
				})
			})
		},
	}
}

func newJanitorCommand(opts *RootOptions) *cobra.Command {
	var dryRun, verify bool

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Удалить файлы-сироты и брошенные временные файлы",
		Long: `Находит в каталогах данных файлы старше CV_JANITOR_MIN_AGE,
на которые не ссылается ни одна запись, и незавершённые *.tmp.
С --dry-run только показывает найденное.
С --verify сверяет записи converted и failed с файлами на диске
(наличие, размер, SHA-256) и ничего не удаляет.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				janitor := service.NewJanitorService(a.files, a.store, a.cfg.JanitorMinAge, a.logger)
				if verify {
					return runVerify(cmd, opts, janitor)
				}
				res, err := janitor.RunOnce(cmd.Context(), dryRun)
				if err != nil {
					return WrapExitError(ExitCommandError, "ошибка janitor", err)
				}
				if err := output(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
					printJanitor(w, res)
				}); err != nil {
					return err
				}
				if res.Errors > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("не удалось удалить файлов: %d", res.Errors))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только показать, ничего не удалять")
	cmd.Flags().BoolVar(&verify, "verify", false, "сверить записи с файлами на диске")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "verify")
	return cmd
}

func runVerify(cmd *cobra.Command, opts *RootOptions, janitor *service.JanitorService) error {
	res, err := janitor.Verify(cmd.Context())
	if err != nil {
		return serviceExit("ошибка сверки", err)
	}
	if err := output(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
		if len(res.Issues) == 0 {
			fmt.Fprintf(w, "Проверено записей: %d, расхождений нет\n", res.Scanned)
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ТИП\tПУТЬ")
		for _, is := range res.Issues {
			fmt.Fprintf(tw, "%s\t%s\n", is.Type, is.Path)
		}
		tw.Flush()
		fmt.Fprintf(w, "\nПроверено записей: %d, расхождений: %d\n", res.Scanned, len(res.Issues))
	}); err != nil {
		return err
	}
	if len(res.Issues) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("найдено расхождений: %d", len(res.Issues)))
	}
	return nil
}

func printJanitor(w io.Writer, res *service.JanitorResult) {
	if len(res.Issues) == 0 {
		fmt.Fprintf(w, "Проверено файлов: %d, лишних не найдено\n", res.Scanned)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ТИП\tПУТЬ\tРАЗМЕР\tУДАЛЁН")
	for _, is := range res.Issues {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", is.Type, is.Path, is.Size, is.Removed)
	}
	tw.Flush()
	if res.DryRun {
		fmt.Fprintf(w, "\nНайдено: %d (dry-run, ничего не удалено)\n", len(res.Issues))
	} else {
		fmt.Fprintf(w, "\nНайдено: %d, удалено: %d, ошибок: %d\n", len(res.Issues), res.Removed, res.Errors)
	}
}

func newMergeCommand(opts *RootOptions) *cobra.Command {
	var lines []int
	var list bool

	cmd := &cobra.Command{
		Use:   "merge ORDER",
		Short: "Объединить PDF строк заказа",
		Long: `Объединяет PDF строк заказа в статусе converted в один документ.
Без --lines берутся все строки по возрастанию line_number.
Каждый запуск создаёт новую версию. С --list показывает существующие версии.

Примеры:
  converterctl merge 123456
  converterctl merge 123456 --lines 3,1,2
  converterctl merge 123456 --list`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseIntArg("ORDER", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				svc := a.mergeService()

				if list {
					versions, err := svc.ListMerged(cmd.Context(), order)
					if err != nil {
						return serviceExit("ошибка чтения версий", err)
					}
					return output(cmd.OutOrStdout(), opts.Format, versions, func(w io.Writer) {
						tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "ВЕРСИЯ\tСТРОКИ\tРАЗМЕР\tСОЗДАН")
						for _, m := range versions {
							fmt.Fprintf(tw, "%d\t%v\t%d\t%s\n", m.SequenceNumber, m.LineNumbers, m.FileSize,
								m.CreatedAt.Format("2006-01-02 15:04:05"))
						}
						tw.Flush()
					})
				}

				m, err := svc.MergeOrder(cmd.Context(), order, lines)
				if err != nil {
					return serviceExit("ошибка объединения", err)
				}
				return output(cmd.OutOrStdout(), opts.Format, m, func(w io.Writer) {
					fmt.Fprintf(w, "Заказ %d: версия %d, строк %d %v, %d байт\n",
						m.OrderNumber, m.SequenceNumber, m.FileCount, m.LineNumbers, m.FileSize)
				})
			})
		},
	}

	cmd.Flags().IntSliceVar(&lines, "lines", nil, "номера строк в нужном порядке")
	cmd.Flags().BoolVar(&list, "list", false, "показать существующие версии")
	return cmd
}
