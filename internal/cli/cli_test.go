package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/svgconv/internal/converter"
	"github.com/bigkaa/svgconv/internal/domain/model"
	"github.com/bigkaa/svgconv/internal/service"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"/>`

// minimalPDF собирает корректный одностраничный PDF с таблицей xref.
func minimalPDF() []byte {
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>",
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objs))
	for i, o := range objs {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

// setupEnv настраивает CV_* на SQLite во временном каталоге.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CV_DB_DRIVER", "sqlite")
	t.Setenv("CV_SQLITE_PATH", filepath.Join(dir, "cv.db"))
	t.Setenv("CV_DATA_DIR", filepath.Join(dir, "files"))
	return dir
}

// run выполняет converterctl с аргументами и возвращает stdout.
func run(t *testing.T, conv converter.Converter, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(&RootOptions{Converter: conv})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func okConverter() converter.Converter {
	return converter.Func(func(context.Context, []byte) ([]byte, error) {
		return minimalPDF(), nil
	})
}

func writeSVG(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(testSVG), 0o644))
	return p
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "converterctl", cmd.Use)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"migrate", "ingest", "get", "list", "order", "stats", "sweep", "janitor", "merge"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	setupEnv(t)
	_, err := run(t, nil, "stats", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestAndGet(t *testing.T) {
	dir := setupEnv(t)
	svg := writeSVG(t, dir, "drawing.svg")

	out, err := run(t, okConverter(), "ingest", "--order", "123456", "--line", "1", "--format", "json", svg)
	require.NoError(t, err)

	var rec model.FileRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, model.StatusConverted, rec.Status)
	assert.Equal(t, "drawing.svg", rec.OriginalFilename)
	require.NotNil(t, rec.DerivedPath)
	assert.FileExists(t, filepath.Join(dir, "files", *rec.DerivedPath))

	out, err = run(t, nil, "get", "123456", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "converted")
	assert.Contains(t, out, "drawing.svg")
}

func TestIngest_Stdin(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	cmd := newRootCommand(&RootOptions{Converter: okConverter()})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(testSVG))
	cmd.SetArgs([]string{"ingest", "--order", "123456", "--line", "2", "--name", "part.svg", "-"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "part.svg")
}

func TestIngest_Duplicate(t *testing.T) {
	dir := setupEnv(t)
	svg := writeSVG(t, dir, "drawing.svg")

	_, err := run(t, okConverter(), "ingest", "--order", "123456", "--line", "1", svg)
	require.NoError(t, err)

	_, err = run(t, okConverter(), "ingest", "--order", "123456", "--line", "1", svg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrDuplicateIdentity))
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestIngest_ConversionFailed(t *testing.T) {
	dir := setupEnv(t)
	svg := writeSVG(t, dir, "bad.svg")
	conv := converter.Func(func(context.Context, []byte) ([]byte, error) {
		return nil, &converter.Error{Reason: "конвертер завершился с ошибкой: exit status 1"}
	})

	_, err := run(t, conv, "ingest", "--order", "123456", "--line", "5", svg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrConversion))
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := run(t, nil, "get", "123456", "5", "--format", "json")
	require.NoError(t, err)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, model.StatusFailed, rec.Status)
}

func TestIngest_MissingFlags(t *testing.T) {
	setupEnv(t)
	_, err := run(t, nil, "ingest", "--order", "123456", "x.svg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestGet_NotFound(t *testing.T) {
	setupEnv(t)
	_, err := run(t, nil, "get", "123456", "9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotFound))
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestGet_BadArgs(t *testing.T) {
	setupEnv(t)
	_, err := run(t, nil, "get", "abc", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestListOrderStats(t *testing.T) {
	dir := setupEnv(t)
	svg := writeSVG(t, dir, "drawing.svg")
	for _, line := range []string{"3", "1", "2"} {
		_, err := run(t, okConverter(), "ingest", "--order", "123456", "--line", line, svg)
		require.NoError(t, err)
	}

	out, err := run(t, nil, "list", "--per-page", "2", "--format", "json")
	require.NoError(t, err)
	var page service.Page
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 2)

	out, err = run(t, nil, "order", "123456", "--format", "json")
	require.NoError(t, err)
	var recs []model.FileRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, i+1, r.LineNumber)
	}

	out, err = run(t, nil, "order", "123456", "--summary")
	require.NoError(t, err)
	assert.Contains(t, out, "строк 3")

	out, err = run(t, nil, "stats", "--format", "yaml")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats["total_files"])
	assert.Equal(t, 3, stats["converted"])
}

func TestMerge(t *testing.T) {
	dir := setupEnv(t)
	svg := writeSVG(t, dir, "drawing.svg")
	for _, line := range []string{"1", "2"} {
		_, err := run(t, okConverter(), "ingest", "--order", "123456", "--line", line, svg)
		require.NoError(t, err)
	}

	out, err := run(t, nil, "merge", "123456", "--lines", "2,1", "--format", "json")
	require.NoError(t, err)
	var m model.MergedFile
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, 1, m.SequenceNumber)
	assert.Equal(t, []int{2, 1}, m.LineNumbers)

	out, err = run(t, nil, "merge", "123456", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "[2 1]")

	_, err = run(t, nil, "merge", "654321")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrNotFound))
}

func TestSweepAndJanitor(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("CV_JANITOR_MIN_AGE", "0s")

	out, err := run(t, nil, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "Переведено в failed: 0")

	orphan := filepath.Join(dir, "files", "uploads", "123456_1_lost.svg")
	require.NoError(t, os.MkdirAll(filepath.Dir(orphan), 0o755))
	require.NoError(t, os.WriteFile(orphan, []byte(testSVG), 0o644))

	out, err = run(t, nil, "janitor", "--dry-run", "--format", "json")
	require.NoError(t, err)
	var res service.JanitorResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Issues, 1)
	assert.Equal(t, service.IssueOrphanedFile, res.Issues[0].Type)
	assert.FileExists(t, orphan)

	_, err = run(t, nil, "janitor")
	require.NoError(t, err)
	assert.NoFileExists(t, orphan)
}

func TestJanitorVerify(t *testing.T) {
	dir := setupEnv(t)
	svg := writeSVG(t, dir, "drawing.svg")

	out, err := run(t, okConverter(), "ingest", "--order", "123456", "--line", "1", "--format", "json", svg)
	require.NoError(t, err)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))

	out, err = run(t, nil, "janitor", "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "расхождений нет")

	require.NoError(t, os.Remove(filepath.Join(dir, "files", rec.SourcePath)))

	out, err = run(t, nil, "janitor", "--verify", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var res service.JanitorResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Issues, 1)
	assert.Equal(t, service.IssueMissingFile, res.Issues[0].Type)
	assert.Equal(t, rec.SourcePath, res.Issues[0].Path)

	_, err = run(t, nil, "janitor", "--verify", "--dry-run")
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	setupEnv(t)
	out, err := run(t, nil, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("x")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", errors.New("y"))))
	assert.Equal(t, ExitCommandError, GetExitCode(serviceExit("x", service.ErrInfrastructure)))
	assert.Equal(t, ExitFailure, GetExitCode(serviceExit("x", service.ErrValidation)))
}

func TestWriteYAML_KeepsJSONNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, model.FileStats{TotalFiles: 2, Converted: 1}))
	assert.Contains(t, buf.String(), "total_files: 2")
	assert.NotContains(t, buf.String(), "{")
}
