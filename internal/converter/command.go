package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// maxStderr — сколько байт stderr сохраняется для диагностики.
const maxStderr = 4 * 1024

// pdfMagic — сигнатура начала PDF-документа.
var pdfMagic = []byte("%PDF-")

// CommandConfig — параметры внешней команды конвертации.
type CommandConfig struct {
	// Command — исполняемый файл (например, rsvg-convert)
	Command string
	// Args — аргументы; SVG подаётся в stdin, PDF читается из stdout
	Args []string
	// MaxOutput — максимальный размер PDF в байтах
	MaxOutput int64
	// Sanitize — применять Sanitize к SVG перед конвертацией
	Sanitize bool
}

// CommandConverter запускает внешнюю команду через exec.CommandContext.
// Процесс убивается при отмене контекста.
type CommandConverter struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// NewCommandConverter создаёт конвертер на основе внешней команды.
func NewCommandConverter(cfg CommandConfig, logger *slog.Logger) *CommandConverter {
	return &CommandConverter{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "converter")),
	}
}

// Convert подаёт SVG в stdin команды и возвращает её stdout.
// Все ошибки — *Error.
func (c *CommandConverter) Convert(ctx context.Context, svg []byte) ([]byte, error) {
	input := svg
	if c.cfg.Sanitize {
		input = Sanitize(svg)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	cmd.Stdin = bytes.NewReader(input)
	// После kill не ждём закрытия pipe дочерними процессами дольше секунды
	cmd.WaitDelay = time.Second

	stdout := &limitedBuffer{limit: c.cfg.MaxOutput}
	stderr := &limitedBuffer{limit: maxStderr, truncate: true}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &Error{Reason: ErrTimeout.Error(), Err: ErrTimeout}
		}
		return nil, &Error{Reason: "конвертация отменена", Err: ctxErr}
	}
	if stdout.overflow {
		return nil, &Error{
			Reason: fmt.Sprintf("%s (%d байт)", ErrOutputTooLarge.Error(), c.cfg.MaxOutput),
			Err:    ErrOutputTooLarge,
		}
	}
	if err != nil {
		c.logger.Debug("Конвертер завершился с ошибкой",
			slog.String("command", c.cfg.Command),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return nil, &Error{
			Reason: fmt.Sprintf("конвертер завершился с ошибкой: %v", err),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	out := stdout.Bytes()
	if !bytes.HasPrefix(out, pdfMagic) {
		return nil, &Error{
			Reason: "результат конвертации не является PDF",
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    ErrInvalidOutput,
		}
	}

	c.logger.Debug("Конвертация выполнена",
		slog.Int("input_bytes", len(input)),
		slog.Int("output_bytes", len(out)),
		slog.Duration("elapsed", elapsed),
	)
	return out, nil
}

// limitedBuffer — буфер с ограничением размера.
// При truncate=false превышение лимита прерывает запись ошибкой,
// при truncate=true лишние байты молча отбрасываются.
type limitedBuffer struct {
	bytes.Buffer
	limit    int64
	truncate bool
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(b.Len())
	if int64(len(p)) <= remaining {
		return b.Buffer.Write(p)
	}

	b.overflow = true
	if remaining > 0 {
		b.Buffer.Write(p[:remaining])
	}
	if b.truncate {
		return len(p), nil
	}
	return 0, ErrOutputTooLarge
}
