package harness

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/hupe1980/flashsim/vfs"
)

// Files and payloads of the built-in scenarios.
const (
	SwapRenameFileA    = "file_to_rename_a.txt"
	SwapRenameFileB    = "file_to_rename_b.txt"
	SwapRenameContents = "Test contents for the file to be renamed"

	CounterFile     = "rename_replace_file.txt"
	CounterTempFile = "new_rename_replace_file.txt"
	CounterFormat   = "file replace count: %d\r\n"
)

var counterRecord = regexp.MustCompile(`\Afile replace count: (\d+)\r\n\z`)

// SwapRename keeps a fixed payload under exactly one of two names and moves
// it to the other name on every perform.
func SwapRename() Scenario {
	return Scenario{
		Name:    "swap-rename",
		Setup:   setupSwapRename,
		Perform: performSwapRename,
		Check:   checkSwapRename,
	}
}

func setupSwapRename(fsys vfs.FileSystem) error {
	for _, name := range []string{SwapRenameFileA, SwapRenameFileB} {
		ok, err := vfs.Exists(fsys, name)
		if err != nil || ok {
			return err
		}
	}
	return vfs.WriteFile(fsys, SwapRenameFileA, []byte(SwapRenameContents))
}

func performSwapRename(fsys vfs.FileSystem) (bool, error) {
	src, dst := SwapRenameFileA, SwapRenameFileB
	ok, err := vfs.Exists(fsys, src)
	if err != nil {
		return false, err
	}
	if !ok {
		src, dst = dst, src
	}
	return exhausted(fsys.Rename(src, dst))
}

func checkSwapRename(fsys vfs.FileSystem) error {
	var found []string
	for _, name := range []string{SwapRenameFileA, SwapRenameFileB} {
		ok, err := vfs.Exists(fsys, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		data, err := vfs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		if !bytes.Equal(data, []byte(SwapRenameContents)) {
			return fmt.Errorf("%s holds %q", name, data)
		}
		found = append(found, name)
	}
	if len(found) != 1 {
		return fmt.Errorf("want exactly one of %s and %s, found %v", SwapRenameFileA, SwapRenameFileB, found)
	}
	return nil
}

// Counter increments a record in a stable file by writing the next record to
// a temporary file and renaming it over the stable one.
func Counter() Scenario {
	return Scenario{
		Name:    "counter",
		Setup:   setupCounter,
		Perform: performCounter,
		Check:   checkCounter,
	}
}

// ParseCounter parses a complete counter record.
func ParseCounter(data []byte) (uint64, error) {
	m := counterRecord.FindSubmatch(data)
	if m == nil {
		return 0, fmt.Errorf("malformed counter record %q", data)
	}
	return strconv.ParseUint(string(m[1]), 10, 64)
}

func counterRecordFor(n uint64) []byte {
	return fmt.Appendf(nil, CounterFormat, n)
}

func setupCounter(fsys vfs.FileSystem) error {
	ok, err := vfs.Exists(fsys, CounterFile)
	if err != nil || ok {
		return err
	}
	return vfs.WriteFile(fsys, CounterFile, counterRecordFor(0))
}

func performCounter(fsys vfs.FileSystem) (bool, error) {
	data, err := vfs.ReadFile(fsys, CounterFile)
	if err != nil {
		return false, err
	}
	n, err := ParseCounter(data)
	if err != nil {
		return false, err
	}

	if err := vfs.WriteFile(fsys, CounterTempFile, counterRecordFor(n+1)); err != nil {
		return exhausted(err)
	}
	return exhausted(fsys.Rename(CounterTempFile, CounterFile))
}

func checkCounter(fsys vfs.FileSystem) error {
	data, err := vfs.ReadFile(fsys, CounterFile)
	if err != nil {
		return err
	}
	_, err = ParseCounter(data)
	return err
}

// ReadCounter returns the value of the counter scenario's stable file.
func ReadCounter(fsys vfs.FileSystem) (uint64, error) {
	data, err := vfs.ReadFile(fsys, CounterFile)
	if err != nil {
		return 0, err
	}
	return ParseCounter(data)
}

// exhausted maps capacity exhaustion to the exhausted signal.
func exhausted(err error) (bool, error) {
	if vfs.IsNoSpace(err) {
		return true, nil
	}
	return false, err
}
