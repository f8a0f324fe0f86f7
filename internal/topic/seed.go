package topic

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedTopic describes a topic to set up at start when no live topic with
// the same name exists.
type SeedTopic struct {
	Name       string   `yaml:"name"`
	Keywords   []string `yaml:"keywords"`
	Sources    []Source `yaml:"sources"`
	DailyTime  string   `yaml:"daily_time"`
	WeeklyDay  string   `yaml:"weekly_day"`
	WeeklyTime string   `yaml:"weekly_time"`
	Timezone   string   `yaml:"timezone"`
	Recipients []string `yaml:"recipients"`
	Paused     bool     `yaml:"paused"`
}

type seedFile struct {
	Topics []SeedTopic `yaml:"topics"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) ([]SeedTopic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(bytes.NewReader(raw))
}

// ParseSeed decodes seed topics, rejecting unknown fields.
func ParseSeed(r io.Reader) ([]SeedTopic, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file seedFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	for i, st := range file.Topics {
		if _, err := NormalizeName(st.Name); err != nil {
			return nil, fmt.Errorf("seed topic %d: %w", i, err)
		}
	}
	return file.Topics, nil
}
