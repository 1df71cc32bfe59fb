// Package manifest reads and rewrites GUIDE-Seq parameter manifests.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ControlSample is the sample every manifest must declare for background filtering.
const ControlSample = "control"

// Undemultiplexed lists the pooled read files of a sequencing run.
type Undemultiplexed struct {
	Forward string `yaml:"forward"`
	Reverse string `yaml:"reverse"`
	Index1  string `yaml:"index1"`
	Index2  string `yaml:"index2"`
}

type Sample struct {
	Target      string `yaml:"target"`
	Barcode1    string `yaml:"barcode1"`
	Barcode2    string `yaml:"barcode2"`
	Description string `yaml:"description"`
}

// Manifest is the typed view of a manifest file. The raw document is kept so
// that Save writes back keys this type does not know about.
type Manifest struct {
	ReferenceGenome     string            `yaml:"reference_genome"`
	BWA                 string            `yaml:"bwa"`
	Bedtools            string            `yaml:"bedtools"`
	PAM                 string            `yaml:"PAM"`
	DemultiplexMinReads int               `yaml:"demultiplex_min_reads"`
	Undemultiplexed     Undemultiplexed   `yaml:"undemultiplexed"`
	Samples             map[string]Sample `yaml:"samples"`
	OutputFolder        string            `yaml:"output_folder"`

	doc yaml.Node
}

// Load parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, &m.doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.doc.Content) == 0 {
		return nil, errors.New("parse manifest: document is empty")
	}
	if m.root().Kind != yaml.MappingNode {
		return nil, errors.New("parse manifest: top level must be a mapping")
	}
	if err := m.doc.Decode(m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

func (m *Manifest) root() *yaml.Node {
	return m.doc.Content[0]
}

// Validate checks the fields the pipeline cannot run without.
func (m *Manifest) Validate() error {
	var problems []string
	if strings.TrimSpace(m.ReferenceGenome) == "" {
		problems = append(problems, "reference_genome is required")
	}
	if len(m.Samples) < 2 {
		problems = append(problems, "at least two samples are required")
	}
	if _, ok := m.Samples[ControlSample]; !ok {
		problems = append(problems, `a "control" sample is required`)
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SetOutputFolder replaces output_folder, adding the key when absent.
func (m *Manifest) SetOutputFolder(name string) {
	m.OutputFolder = name
	root := m.root()
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "output_folder" {
			root.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
			return
		}
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "output_folder"},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
	)
}

func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(&m.doc); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes the manifest to path, replacing any existing file.
func (m *Manifest) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
