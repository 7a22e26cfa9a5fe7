package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/service"
)

func newIngestCommand(opts *RootOptions) *cobra.Command {
	var order, line int
	var filename string

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Загрузить SVG и сконвертировать в PDF",
		Long: `Загружает SVG под идентификатором (order_number, line_number)
и синхронно конвертирует его в PDF. FILE = "-" читает SVG из stdin.

Примеры:
  converterctl ingest --order 123456 --line 1 drawing.svg
  cat drawing.svg | converterctl ingest --order 123456 --line 2 --name drawing.svg -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var content io.Reader
			name := filename
			if args[0] == "-" {
				content = cmd.InOrStdin()
				if name == "" {
					name = "stdin.svg"
				}
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "не удалось открыть файл", err)
				}
				defer f.Close()
				content = f
				if name == "" {
					name = filepath.Base(args[0])
				}
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				svc := a.ingestService(opts.Converter)
				defer svc.Stop()

				rec, err := svc.Ingest(cmd.Context(), service.IngestParams{
					OrderNumber: order,
					LineNumber:  line,
					Filename:    name,
					Content:     content,
				})
				if err != nil {
					return serviceExit("ошибка загрузки", err)
				}
				return printRecord(cmd.OutOrStdout(), opts.Format, rec)
			})
		},
	}

	cmd.Flags().IntVar(&order, "order", 0, "номер заказа (обязательный)")
	cmd.Flags().IntVar(&line, "line", 0, "номер строки (обязательный)")
	cmd.Flags().StringVar(&filename, "name", "", "имя файла (по умолчанию — имя FILE)")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("line")
	return cmd
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get ORDER LINE",
		Short:         "Показать запись файла",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseIntArg("ORDER", args[0])
			if err != nil {
				return err
			}
			line, err := parseIntArg("LINE", args[1])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				rec, err := a.queryService().Get(cmd.Context(), order, line)
				if err != nil {
					return serviceExit("ошибка чтения записи", err)
				}
				return printRecord(cmd.OutOrStdout(), opts.Format, rec)
			})
		},
	}
}

func newListCommand(opts *RootOptions) *cobra.Command {
	var page, perPage int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "Постраничный список всех записей (новые первыми)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				result, err := a.queryService().List(cmd.Context(), page, perPage)
				if err != nil {
					return serviceExit("ошибка чтения списка", err)
				}
				return output(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
					printRecords(w, result.Items)
					fmt.Fprintf(w, "\nСтраница %d из %d, всего записей: %d\n", result.Page, result.Pages, result.Total)
				})
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "номер страницы")
	cmd.Flags().IntVar(&perPage, "per-page", service.DefaultPerPage, "записей на странице")
	return cmd
}

func newOrderCommand(opts *RootOptions) *cobra.Command {
	var summary bool

	cmd := &cobra.Command{
		Use:           "order ORDER",
		Short:         "Строки заказа по возрастанию line_number",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseIntArg("ORDER", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				q := a.queryService()
				if summary {
					s, err := q.OrderSummary(cmd.Context(), order)
					if err != nil {
						return serviceExit("ошибка построения сводки", err)
					}
					return output(cmd.OutOrStdout(), opts.Format, s, func(w io.Writer) {
						fmt.Fprintf(w, "Заказ %d: строк %d, с PDF %d, без PDF %d\n",
							s.OrderNumber, s.TotalFiles, len(s.Available), len(s.Missing))
						for _, l := range s.Missing {
							fmt.Fprintf(w, "  нет PDF: строка %d (%s, %s)\n", l.LineNumber, l.Filename, l.Status)
						}
					})
				}

				recs, err := q.ListByOrder(cmd.Context(), order)
				if err != nil {
					return serviceExit("ошибка чтения заказа", err)
				}
				return output(cmd.OutOrStdout(), opts.Format, recs, func(w io.Writer) {
					if len(recs) == 0 {
						fmt.Fprintf(w, "Заказ %d: записей нет\n", order)
						return
					}
					printRecords(w, recs)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&summary, "summary", false, "показать сводку: строки с PDF и без")
	return cmd
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Статистика по статусам и суммарный размер",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), func(a *app) error {
				s, err := a.queryService().Stats(cmd.Context())
				if err != nil {
					return serviceExit("ошибка чтения статистики", err)
				}
				return output(cmd.OutOrStdout(), opts.Format, s, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "Всего\t%d\n", s.TotalFiles)
					fmt.Fprintf(tw, "uploaded\t%d\n", s.Uploaded)
					fmt.Fprintf(tw, "converting\t%d\n", s.Converting)
					fmt.Fprintf(tw, "converted\t%d\n", s.Converted)
					fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
					fmt.Fprintf(tw, "Размер SVG, байт\t%d\n", s.TotalSize)
					tw.Flush()
				})
			})
		},
	}
}

// --- Вывод ---

func printRecord(w io.Writer, format string, rec *model.FileRecord) error {
	return output(w, format, rec, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "ID\t%d\n", rec.ID)
		fmt.Fprintf(tw, "Заказ / строка\t%d / %d\n", rec.OrderNumber, rec.LineNumber)
		fmt.Fprintf(tw, "Файл\t%s\n", rec.OriginalFilename)
		fmt.Fprintf(tw, "Статус\t%s\n", rec.Status)
		fmt.Fprintf(tw, "SVG\t%s (%d байт)\n", rec.SourcePath, rec.FileSize)
		if rec.DerivedPath != nil {
			fmt.Fprintf(tw, "PDF\t%s\n", *rec.DerivedPath)
		}
		if rec.FailureReason != nil {
			fmt.Fprintf(tw, "Причина\t%s\n", *rec.FailureReason)
		}
		fmt.Fprintf(tw, "SHA-256\t%s\n", rec.Checksum)
		fmt.Fprintf(tw, "Создан\t%s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
		tw.Flush()
	})
}

func printRecords(w io.Writer, recs []*model.FileRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ЗАКАЗ\tСТРОКА\tСТАТУС\tФАЙЛ\tРАЗМЕР")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\n", r.OrderNumber, r.LineNumber, r.Status, r.OriginalFilename, r.FileSize)
	}
	tw.Flush()
}

func parseIntArg(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("%s должен быть целым числом, получено %q", name, s))
	}
	return n, nil
}
