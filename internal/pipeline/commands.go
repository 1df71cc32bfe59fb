package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	GuideseqOutputFolder   = "guideseq_outputs"
	CrispressoOutputFolder = "crispresso_outputs"
)

// Tools locates the external executables.
type Tools struct {
	Python         string
	GuideseqScript string
	CrispressoBin  string
}

func DefaultTools() Tools {
	return Tools{
		Python:         "python2.7",
		GuideseqScript: "guideseq/guideseq/guideseq.py",
		CrispressoBin:  "CRISPResso",
	}
}

type GuideseqParams struct {
	IdentifyAndFilter bool `json:"identify_and_filter"`
	SkipDemultiplex   bool `json:"skip_demultiplex"`
}

// Guideseq builds the end-to-end GUIDE-Seq invocation for the manifest at manifestPath.
func (t Tools) Guideseq(dir, manifestPath string, p GuideseqParams) Command {
	args := []string{t.GuideseqScript, "all", "-m", manifestPath}
	if p.IdentifyAndFilter {
		args = append(args, "--identifyAndFilter")
	}
	if p.SkipDemultiplex {
		args = append(args, "--skip_demultiplex")
	}
	return Command{Name: t.Python, Args: args, Dir: dir}
}

// CrispressoParams are relative to the mirrored input directory.
type CrispressoParams struct {
	FastqR1                     string `json:"fastq_r1"`
	FastqR2                     string `json:"fastq_r2,omitempty"`
	AmpliconSeq                 string `json:"amplicon_seq"`
	GuideSeq                    string `json:"guide_seq,omitempty"`
	ExpectedHDRAmpliconSeq      string `json:"expected_hdr_amplicon_seq,omitempty"`
	BaseEditorOutput            bool   `json:"base_editor_output,omitempty"`
	PrimeEditingPegRNASpacerSeq string `json:"prime_editing_pegrna_spacer_seq,omitempty"`
	Name                        string `json:"name"`
}

func (p CrispressoParams) Validate() error {
	var problems []string
	if strings.TrimSpace(p.FastqR1) == "" {
		problems = append(problems, "fastq_r1 is required")
	}
	if strings.TrimSpace(p.AmpliconSeq) == "" {
		problems = append(problems, "amplicon_seq is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	} else if strings.ContainsAny(p.Name, `/\`) {
		problems = append(problems, "name must not contain path separators")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Crispresso builds the CRISPResso2 invocation. Read paths are resolved below inputDir.
func (t Tools) Crispresso(dir, inputDir string, p CrispressoParams) Command {
	args := []string{"--fastq_r1", filepath.Join(inputDir, filepath.FromSlash(p.FastqR1))}
	if p.FastqR2 != "" {
		args = append(args, "--fastq_r2", filepath.Join(inputDir, filepath.FromSlash(p.FastqR2)))
	}
	args = append(args, "--amplicon_seq", p.AmpliconSeq)
	if p.GuideSeq != "" {
		args = append(args, "--guide_seq", p.GuideSeq)
	}
	if p.ExpectedHDRAmpliconSeq != "" {
		args = append(args, "--expected_hdr_amplicon_seq", p.ExpectedHDRAmpliconSeq)
	}
	if p.BaseEditorOutput {
		args = append(args, "--base_editor_output")
	}
	if p.PrimeEditingPegRNASpacerSeq != "" {
		args = append(args, "--prime_editing_pegRNA_spacer_seq", p.PrimeEditingPegRNASpacerSeq)
	}
	args = append(args, "--name", p.Name, "--output_folder", CrispressoOutputFolder)
	return Command{Name: t.CrispressoBin, Args: args, Dir: dir}
}

// CrispressoOutputs names the report and directory CRISPResso2 writes for a run name.
func CrispressoOutputs(name string) (html, dir string) {
	base := fmt.Sprintf("CRISPResso_on_%s", name)
	return base + ".html", base
}
