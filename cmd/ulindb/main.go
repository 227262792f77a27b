package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/zakazai/ulin-mvcc/internal/config"
	"github.com/zakazai/ulin-mvcc/internal/engine"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	engineName := flag.String("engine", "", "storage engine: memory or disk (overrides config)")
	dataPath := flag.String("path", "", "data directory for the disk engine (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *engineName != "" {
		cfg.Storage.Engine = *engineName
	}
	if *dataPath != "" {
		cfg.Storage.Path = *dataPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := types.InitLogger(cfg.LogLevel(), os.Stderr)
	db, err := engine.Open(cfg.StorageConfig(), engine.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing storage: %v\n", err)
		os.Exit(1)
	}
	if cfg.Export.Dir != "" {
		if err := db.StartExportWorker(cfg.Export.Dir, cfg.Export.Interval); err != nil {
			logger.Warning("Export worker not started: %v", err)
		}
	}

	// Check if we're in interactive mode or piped input
	isInteractive := true
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		isInteractive = false
	}
	if isInteractive {
		fmt.Println("UlinDB SQL Server")
		fmt.Println("Type 'exit' to quit")
	}

	var lines lineReader = newPipeReader(os.Stdin)
	if isInteractive {
		term, err := newTerminalReader(os.Stdin, os.Stdout)
		if err != nil {
			logger.Warning("Line editing unavailable: %v", err)
		} else {
			lines = term
		}
	}
	run(db, lines, os.Stdout, isInteractive)
	lines.Close()

	if err := db.Close(); err != nil {
		fmt.Printf("Error closing storage: %v\n", err)
	}
}

// run reads one statement per line until EOF or "exit".
func run(db *engine.Engine, lines lineReader, out io.Writer, interactive bool) {
	session := db.NewSession()

	for {
		prompt := "> "
		if session.InTransaction() {
			prompt = "*> "
		}

		input, err := lines.ReadLine(prompt)
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(out, "Error reading input: %v\n", err)
			} else if interactive {
				fmt.Fprintln(out, "Goodbye!")
			}
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.ToLower(input) == "exit" {
			fmt.Fprintln(out, "Goodbye!")
			break
		}
		if strings.HasPrefix(input, ".") {
			command(db, input, out)
			continue
		}

		res, err := db.Execute(session, input)
		if err != nil {
			if engine.IsRetryable(err) {
				fmt.Fprintf(out, "Error executing statement (retry the transaction): %v\n", err)
			} else {
				fmt.Fprintf(out, "Error executing statement: %v\n", err)
			}
			continue
		}
		printResult(out, res)
	}

	if session.InTransaction() {
		db.Rollback(session)
	}
}

// lineReader yields one line of input at a time. The prompt is shown only
// by readers attached to a terminal.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type pipeReader struct {
	r *bufio.Reader
}

func newPipeReader(in io.Reader) *pipeReader {
	return &pipeReader{r: bufio.NewReader(in)}
}

func (p *pipeReader) ReadLine(string) (string, error) {
	line, err := p.r.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}

func (p *pipeReader) Close() error { return nil }

// terminalReader adds line editing and history to an interactive session.
type terminalReader struct {
	rl *readline.Instance
}

func newTerminalReader(in io.ReadCloser, out io.Writer) (*terminalReader, error) {
	cfg := &readline.Config{
		Prompt:            "> ",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             in,
		Stdout:            out,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, historyFileName)
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}
	return &terminalReader{rl: rl}, nil
}

const historyFileName = ".ulindb_history"

// ReadLine treats Ctrl-C as an empty line so that only Ctrl-D or "exit"
// end the session.
func (t *terminalReader) ReadLine(prompt string) (string, error) {
	t.rl.SetPrompt(prompt)
	line, err := t.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", nil
	}
	return line, err
}

func (t *terminalReader) Close() error { return t.rl.Close() }

// command runs a dot-prefixed meta command.
func command(db *engine.Engine, input string, out io.Writer) {
	fields := strings.Fields(input)
	switch fields[0] {
	case ".tables":
		for _, name := range db.Tables() {
			fmt.Fprintln(out, name)
		}
	case ".schema":
		for _, name := range fields[1:] {
			schema, ok := db.Schema(name)
			if !ok {
				fmt.Fprintf(out, "No such table: %s\n", name)
				continue
			}
			for _, col := range schema.Columns {
				fmt.Fprintf(out, "%s %s%s\n", col.Name, col.Type, columnFlags(col))
			}
		}
	case ".vacuum":
		fmt.Fprintf(out, "Removed %d versions\n", db.Vacuum())
	case ".compact":
		if err := db.Compact(); err != nil {
			fmt.Fprintf(out, "Error compacting: %v\n", err)
		}
	case ".export":
		if len(fields) != 2 {
			fmt.Fprintln(out, "Usage: .export <dir>")
			return
		}
		if err := db.ExportSnapshot(fields[1]); err != nil {
			fmt.Fprintf(out, "Error exporting: %v\n", err)
		}
	default:
		fmt.Fprintf(out, "Unknown command %s\n", fields[0])
	}
}

func columnFlags(col types.Column) string {
	var flags string
	if col.PrimaryKey {
		flags += " PRIMARY KEY"
	} else if !col.Nullable {
		flags += " NOT NULL"
	}
	if col.Default != nil {
		flags += " DEFAULT " + col.Default.String()
	}
	return flags
}

func printResult(out io.Writer, res *engine.Result) {
	defer res.Close()
	switch res.Kind {
	case engine.ResultOk:
		fmt.Fprintln(out, "OK")
	case engine.ResultRowCount:
		fmt.Fprintf(out, "%d rows affected\n", res.RowsAffected)
	case engine.ResultRows:
		rows, err := res.All()
		if err != nil {
			fmt.Fprintf(out, "Error reading rows: %v\n", err)
			return
		}
		printFormattedResults(out, res.Columns, rows)
	}
}

// printFormattedResults formats and prints the results of a SELECT query in a tabular format
func printFormattedResults(out io.Writer, columns []string, rows []types.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "Empty result set")
		return
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		for i, v := range row {
			if n := len(v.String()); n > widths[i] {
				widths[i] = n
			}
		}
	}

	// Print header
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(out, " | ")
		}
		fmt.Fprintf(out, "%-*s", widths[i], col)
	}
	fmt.Fprintln(out)

	// Print separator
	for i := range columns {
		if i > 0 {
			fmt.Fprint(out, "-+-")
		}
		fmt.Fprint(out, strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(out)

	// Print data rows
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				fmt.Fprint(out, " | ")
			}
			fmt.Fprintf(out, "%-*s", widths[i], v.String())
		}
		fmt.Fprintln(out)
	}
}
