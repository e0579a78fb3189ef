package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/wippyai/quickjs-runtime/runtime"
)

func main() {
	var (
		expr        = flag.String("e", "", "Evaluate expression and print the result")
		interactive = flag.Bool("i", false, "Interactive REPL")
		asModule    = flag.Bool("module", false, "Evaluate the file as an ES module")
		memLimit    = flag.Uint("memlimit", 0, "Script heap limit in bytes (0 = unlimited)")
		stackSize   = flag.Uint("stack", 0, "Script stack limit in bytes (0 = engine default)")
	)
	flag.Parse()

	cfg := &runtime.Config{
		MemoryLimit:  uint32(*memLimit),
		MaxStackSize: uint32(*stackSize),
		Loader:       fileLoader,
	}

	switch {
	case *expr != "":
		if err := evalAndPrint(cfg, *expr, "<cmdline>", false); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case flag.NArg() > 0:
		if err := runFile(cfg, flag.Arg(0), *asModule); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *interactive || term.IsTerminal(int(os.Stdin.Fd())):
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "Usage: qjs [-e expr] [-module] [-memlimit n] [file.js]")
		fmt.Fprintln(os.Stderr, "       qjs -i  (interactive REPL)")
		os.Exit(1)
	}
}

// fileLoader backs require() with plain file reads relative to the working
// directory. A ".js" suffix is appended when the specifier has no extension.
func fileLoader(specifier string) (string, error) {
	path := specifier
	if filepath.Ext(path) == "" {
		path += ".js"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runFile(cfg *runtime.Config, path string, asModule bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return evalAndPrint(cfg, string(data), path, asModule)
}

func evalAndPrint(cfg *runtime.Config, source, filename string, asModule bool) error {
	ctx := context.Background()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	c, err := rt.NewContext(ctx)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	defer c.Close(ctx)

	var v runtime.Value
	if asModule {
		v, err = c.EvalModule(ctx, source, filename)
	} else {
		v, err = c.Eval(ctx, source, filename)
	}
	if err != nil {
		return err
	}
	defer v.Free(ctx)

	if _, jobErr := rt.ExecutePendingJobs(ctx); jobErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", jobErr)
	}

	if !v.IsUndefined(ctx) {
		fmt.Println(render(ctx, v))
	}
	return nil
}

// render formats a result for the terminal: strings verbatim, everything
// else through JSON.
func render(ctx context.Context, v runtime.Value) string {
	if v.IsString(ctx) {
		s, err := v.String(ctx)
		if err == nil {
			return s
		}
	}
	if s, err := v.JSON(ctx); err == nil && s != "" {
		return s
	}
	// Functions and symbols have no JSON form; fall back to typeof-ish.
	k, err := v.Kind(ctx)
	if err != nil {
		return "<unprintable>"
	}
	return "<" + k.String() + ">"
}
