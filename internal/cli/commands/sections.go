package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agorad-dev/agorad/internal/access"
	"github.com/agorad-dev/agorad/internal/cli/client"
)

// NewSectionsCmd creates the sections command group
func NewSectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "Browse and manage forum sections",
	}

	cmd.AddCommand(newSectionsListCmd())
	cmd.AddCommand(newSectionsImportCmd())

	return cmd
}

func newSectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List forum sections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			if _, err := cliCtx.requireAccess(cmd.Context(), access.Approved); err != nil {
				return err
			}

			sections, err := cliCtx.api.ListSections(cliCtx.cfg.ServerURL)
			if err != nil {
				return err
			}

			if len(sections) == 0 {
				fmt.Println("No sections found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POSITION\tSLUG\tTITLE")
			fmt.Fprintln(w, "────────\t────\t─────")
			for _, section := range sections {
				fmt.Fprintf(w, "%d\t%s\t%s\n", section.Position, section.Slug, section.Title)
			}
			w.Flush()

			return nil
		},
	}
}

// SectionSpec is one section in an import file
type SectionSpec struct {
	Title       string `yaml:"title"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	Position    int    `yaml:"position"`
}

// SectionImportFile is the YAML structure accepted by `sections import`
type SectionImportFile struct {
	Sections []SectionSpec `yaml:"sections"`
}

// ParseSectionImport parses and validates a section import document
func ParseSectionImport(data []byte) (*SectionImportFile, error) {
	var file SectionImportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse import file: %w", err)
	}
	if len(file.Sections) == 0 {
		return nil, fmt.Errorf("import file contains no sections")
	}

	seen := map[string]bool{}
	for i, section := range file.Sections {
		if section.Title == "" {
			return nil, fmt.Errorf("section %d: title is required", i+1)
		}
		if section.Slug == "" {
			return nil, fmt.Errorf("section %d: slug is required", i+1)
		}
		if seen[section.Slug] {
			return nil, fmt.Errorf("section %d: duplicate slug %q", i+1, section.Slug)
		}
		seen[section.Slug] = true
	}

	return &file, nil
}

func newSectionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create forum sections from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}

			file, err := ParseSectionImport(data)
			if err != nil {
				return err
			}

			cliCtx, err := newCLIContext()
			if err != nil {
				return err
			}
			defer cliCtx.store.Stop()

			if _, err := cliCtx.requireAccess(cmd.Context(), access.Administration); err != nil {
				return err
			}

			for _, spec := range file.Sections {
				created, err := cliCtx.api.CreateSection(cliCtx.cfg.ServerURL, client.CreateSectionRequest{
					Title:       spec.Title,
					Slug:        spec.Slug,
					Description: spec.Description,
					Position:    spec.Position,
				})
				if err != nil {
					return fmt.Errorf("failed to create section %q: %w", spec.Slug, err)
				}
				fmt.Printf("✓ Created section %s (%s)\n", created.Title, created.Slug)
			}

			fmt.Printf("\nImported %d section(s).\n", len(file.Sections))
			return nil
		},
	}
}
