package spec

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

// StagedFiles is the rest of the contract between the client-side launcher
// and the AM (spec §6): arguments per runnable, files to localize into each
// container, and optional JVM-equivalent runtime options. None of these are
// fatal to load; a missing optional file just yields a zero value.
type StagedFiles struct {
	Arguments     map[string][]string `json:"-"`
	LocalizeFiles map[string][]string `json:"-"`
	RuntimeOpts   []string            `json:"-"`
}

// LoadStagedFiles reads arguments.json, localizeFiles.json and jvm.opts
// from dir, tolerating their absence.
func LoadStagedFiles(dir string) (*StagedFiles, error) {
	sf := &StagedFiles{
		Arguments:     map[string][]string{},
		LocalizeFiles: map[string][]string{},
	}

	if err := readJSONIfExists(dir+"/arguments.json", &sf.Arguments); err != nil {
		return nil, err
	}
	if err := readJSONIfExists(dir+"/localizeFiles.json", &sf.LocalizeFiles); err != nil {
		return nil, err
	}

	opts, err := readLinesIfExists(dir + "/jvm.opts")
	if err != nil {
		return nil, err
	}
	sf.RuntimeOpts = opts

	return sf, nil
}

func readJSONIfExists(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func readLinesIfExists(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
