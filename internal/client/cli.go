package client

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

const maxUploadFiles = 2

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// Options holds the parsed command line for the uploader.
type Options struct {
	ServerURL  string
	Identifier string
	Password   string
	Duration   int
	Unit       string
	Files      []string
}

// ParseArgs parses flags and validates the file arguments. Directories
// are rejected since a page holds plain files only.
func ParseArgs(args []string) (*Options, error) {
	fs := flag.NewFlagSet("dropslot", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: dropslot [flags] <identifier> <file> [file]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	opts := &Options{}
	fs.StringVar(&opts.ServerURL, "server", envOr("DROPSLOT_SERVER", "http://localhost:8080"), "server base URL")
	fs.StringVar(&opts.Password, "password", "", "page password, if the page is protected")
	fs.IntVar(&opts.Duration, "duration", 1, "file lifetime")
	fs.StringVar(&opts.Unit, "unit", "hour", "lifetime unit: second, minute or hour")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return nil, &ValidationError{Arg: "<identifier>", Cause: "no identifier provided"}
	}
	if len(rest) < 2 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	opts.Identifier = rest[0]
	files := rest[1:]
	if len(files) > maxUploadFiles {
		return nil, &ValidationError{
			Arg:   "<files>",
			Cause: fmt.Sprintf("at most %d files per page", maxUploadFiles),
		}
	}

	for _, raw := range files {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}
		if info.IsDir() {
			return nil, &ValidationError{Arg: raw, Cause: "is a directory"}
		}
		opts.Files = append(opts.Files, p)
	}

	return opts, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
