package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to everything the loader reads from disk or the environment.
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

// formatOf maps a config file extension to its decoder
func formatOf(path string) (fileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported config file type %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// checkConfigPath rejects empty or oversized paths and any ".." segment.
func checkConfigPath(path string) error {
	if path == "" {
		return stderrors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("config path longer than %d bytes", maxPathLen)
	}
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	_, err := formatOf(path)
	return err
}

// readConfigFile returns the contents of a regular file no larger than
// maxConfigSize along with its format.
func readConfigFile(path string) ([]byte, fileFormat, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, 0, err
	}
	format, _ := formatOf(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, 0, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), maxConfigSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, 0, err
	}
	return data, format, nil
}

// checkJSONDepth walks the token stream and fails once objects or arrays
// nest deeper than maxJSONDepth.
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("nesting deeper than %d", maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
}

// checkEnvValue rejects overlong values and control characters, which
// usually mean a secret was pasted with its line ending.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s longer than %d bytes", key, maxEnvVarLen)
	}
	for _, r := range value {
		if r < 0x20 && r != '\t' {
			return fmt.Errorf("%s contains control character %U", key, r)
		}
	}
	return nil
}
