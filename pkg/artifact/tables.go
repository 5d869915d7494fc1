package artifact

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/cyclopcam/roomalign/pkg/sceneindex"
)

var ErrMissingArtifact = errors.New("Missing precomputed artifact")

// Missing wraps err with ErrMissingArtifact if it is a file-not-found error
func Missing(scanID, what, filename string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w for scan %v: %v (%v)", ErrMissingArtifact, scanID, what, filename)
	}
	return fmt.Errorf("Failed to load %v of scan %v from %v: %w", what, scanID, filename, err)
}

func loadJSON(filename string, dst any) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("Failed to decode %v: %w", filename, err)
	}
	return nil
}

// LoadScanTable reads 3RScan.json
func LoadScanTable(filename string) ([]sceneindex.Group, error) {
	groups := []sceneindex.Group{}
	if err := loadJSON(filename, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// LoadSplit reads a newline-delimited list of reference scan ids.
// Blank lines are ignored.
func LoadSplit(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ids := []string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, s.Err()
}

// FlexInt decodes from either a JSON number or a JSON string holding a number.
// objects.json stores ids as strings.
type FlexInt int32

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return fmt.Errorf("Invalid integer %v", string(b))
	}
	*f = FlexInt(v)
	return nil
}

// ObjectRecord is one object of objects.json. Other fields (label, attributes, ...) are ignored.
type ObjectRecord struct {
	ID    FlexInt `json:"id"`
	NYU40 FlexInt `json:"nyu40"`
	Label string  `json:"label,omitempty"`
}

type objectsFile struct {
	Scans []struct {
		Scan    string         `json:"scan"`
		Objects []ObjectRecord `json:"objects"`
	} `json:"scans"`
}

// LoadObjects reads objects.json, returning scan -> object id -> semantic category
func LoadObjects(filename string) (map[string]map[int32]int32, error) {
	raw := objectsFile{}
	if err := loadJSON(filename, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]map[int32]int32, len(raw.Scans))
	for _, s := range raw.Scans {
		m := make(map[int32]int32, len(s.Objects))
		for _, o := range s.Objects {
			m[int32(o.ID)] = int32(o.NYU40)
		}
		out[s.Scan] = m
	}
	return out, nil
}
