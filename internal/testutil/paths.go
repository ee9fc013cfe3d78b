package testutil

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ModulePath is the module that FindProjectRoot looks for
const ModulePath = "github.com/schaermu/pass-ssh-unpack"

// FindProjectRoot returns the directory holding the pass-ssh-unpack go.mod,
// searching upwards from the caller's source file
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	return findRoot(filepath.Dir(filename))
}

// findRoot walks up from dir. A go.mod of another module is skipped so a
// nested module cannot be mistaken for the project.
func findRoot(dir string) (string, error) {
	for {
		if declaresModule(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod for " + ModulePath + " not found in any parent directory")
		}
		dir = parent
	}
}

func declaresModule(goMod string) bool {
	f, err := os.Open(goMod)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "module "); ok {
			return strings.Trim(strings.TrimSpace(name), `"`) == ModulePath
		}
	}
	return false
}
