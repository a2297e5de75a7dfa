// Package filelist resolves raw command arguments into the audio file paths a
// run will process.
//
// Resolution is lazy: direct arguments are joined with the base directory and
// extension one at a time, and list files are streamed line by line, so a run
// over a large corpus never materializes the whole path list up front.
package filelist

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Resolver yields resolved file paths from raw arguments.
type Resolver struct {
	args     []string
	baseDir  string
	ext      string
	listMode bool
}

// New builds a resolver. With listMode set, each argument names a text file
// whose lines are resolved instead of the argument itself.
func New(args []string, baseDir, ext string, listMode bool) *Resolver {
	return &Resolver{args: args, baseDir: baseDir, ext: ext, listMode: listMode}
}

func (r *Resolver) resolve(name string) string {
	name += r.ext
	if r.baseDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.baseDir, name)
}

// All returns the resolved path sequence. An unreadable list file surfaces as
// an error element and ends the sequence; the caller decides whether that is
// fatal.
func (r *Resolver) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !r.listMode {
			for _, arg := range r.args {
				if !yield(r.resolve(arg), nil) {
					return
				}
			}
			return
		}
		for _, listPath := range r.args {
			f, err := os.Open(listPath)
			if err != nil {
				yield("", fmt.Errorf("open list file: %w", err))
				return
			}
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimRight(scanner.Text(), "\r")
				if line == "" {
					continue
				}
				if !yield(r.resolve(line), nil) {
					f.Close()
					return
				}
			}
			err = scanner.Err()
			f.Close()
			if err != nil {
				yield("", fmt.Errorf("read list file %s: %w", listPath, err))
				return
			}
		}
	}
}
