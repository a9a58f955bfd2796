package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Formatter renders a report into bytes.
type Formatter interface {
	Name() string
	Format(r *Report) ([]byte, error)
}

// FormatterFunc adapts a plain function to the Formatter interface.
type FormatterFunc struct {
	ID string
	F  func(r *Report) ([]byte, error)
}

func (f FormatterFunc) Name() string                     { return f.ID }
func (f FormatterFunc) Format(r *Report) ([]byte, error) { return f.F(r) }

var formatters = map[string]Formatter{}

// aliases maps alternative names to registered formatter names.
var aliases = map[string]string{
	"table":   "console",
	"text":    "console",
	"counts":  "csv",
	"values":  "values-csv",
	"ceac":    "ceac-csv",
	"draws":   "psa-csv",
	"tornado": "tornado-csv",
	"excel":   "xlsx",
}

func register(f Formatter) { formatters[f.Name()] = f }

func init() {
	register(ConsoleFormatter{})
	register(CountsCSVFormatter{})
	register(ValuesCSVFormatter{})
	register(JSONFormatter{Pretty: true})
	register(CEACCSVFormatter{})
	register(DrawsCSVFormatter{})
	register(TornadoCSVFormatter{})
	register(XLSXFormatter{})
}

// GetFormatterByName returns the formatter registered under name or one of
// its aliases, or nil.
func GetFormatterByName(name string) Formatter {
	key := strings.ToLower(strings.TrimSpace(name))
	if target, ok := aliases[key]; ok {
		key = target
	}
	return formatters[key]
}

// AvailableFormatterNames lists registered formatter names, sorted.
func AvailableFormatterNames() []string {
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AvailableFormatAliases lists accepted aliases, sorted.
func AvailableFormatAliases() []string {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extension returns the usual file extension for a formatter's output.
func Extension(f Formatter) string {
	switch {
	case f.Name() == "json":
		return "json"
	case f.Name() == "xlsx":
		return "xlsx"
	case strings.HasSuffix(f.Name(), "csv"):
		return "csv"
	default:
		return "txt"
	}
}

// WriteFormatted renders r with f and writes it to dir as
// cohortsim_<name>_<run id prefix>.<ext>. It returns the file path.
func WriteFormatted(f Formatter, r *Report, dir, ext string) (string, error) {
	data, err := f.Format(r)
	if err != nil {
		return "", fmt.Errorf("failed to format %s output: %w", f.Name(), err)
	}
	if ext == "" {
		ext = Extension(f)
	}
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := filepath.Join(dir, fmt.Sprintf("cohortsim_%s_%s.%s", f.Name(), id, ext))
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return filename, nil
}
